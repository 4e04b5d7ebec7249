//go:build linux

package counter

import (
	"golang.org/x/sys/unix"
)

// pread 一次系统调用完成 "定位到开头 + 读取"，省掉 lseek
func (s *Source) readAtStart() (int, error) {
	for {
		n, err := unix.Pread(s.fd, s.buf[:], 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}
