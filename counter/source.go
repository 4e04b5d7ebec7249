// Package counter 提供 sysfs 单值计数器文件的快速读取。
//
// 1ms 采样循环里每次 open/close 和 strconv 都太贵：这里打开一次文件，
// 之后每次只做一次定位读取 (pread 偏移 0)，读进固定大小的缓冲区，手动解析十进制。
// 成功路径上没有任何堆分配。
package counter

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrOpen 计数器文件打不开 (设备不存在)，只对拥有它的引擎是致命的
	ErrOpen = errors.New("counter: open failed")
	// ErrRead 已打开的文件读取失败 (设备被拔掉等)
	ErrRead = errors.New("counter: read failed")
	// ErrParse 内容不是干净的无符号整数，宁可报错也不猜
	ErrParse = errors.New("counter: malformed value")
)

// 20 位数字 (uint64 最大值) + 换行，64 字节绰绰有余
const bufSize = 64

// Source 持有一个打开的计数器文件和一块复用的缓冲区
type Source struct {
	path    string
	file    *os.File
	fd      int
	buf     [bufSize]byte
	lastErr error // 最近一次读取的系统调用错误
}

// Open 只在这里调用一次 open
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return &Source{path: path, file: f, fd: int(f.Fd())}, nil
}

func (s *Source) Path() string {
	return s.path
}

// Read 重新读取当前值，不重新打开文件。
// 失败时直接返回 ErrRead，底层错误留在 LastError 里，失败路径同样不分配
func (s *Source) Read() (uint64, error) {
	n, err := s.readAtStart()
	if err != nil {
		s.lastErr = err
		return 0, ErrRead
	}
	return Parse(s.buf[:n])
}

// LastError 最近一次读失败的底层错误，给日志用
func (s *Source) LastError() error {
	return s.lastErr
}

func (s *Source) Close() error {
	return s.file.Close()
}

// Parse 从左到右解析数字，遇到 '\n'、'\0'、' ' 或数据结尾停止；
// 其它字符、没有数字、或超出 uint64 都返回 ErrParse
func Parse(b []byte) (uint64, error) {
	var num uint64
	digits := 0
	for _, c := range b {
		if c >= '0' && c <= '9' {
			d := uint64(c - '0')
			if num > (^uint64(0)-d)/10 {
				return 0, ErrParse
			}
			num = num*10 + d
			digits++
			continue
		}
		if c == '\n' || c == 0 || c == ' ' {
			break
		}
		return 0, ErrParse
	}
	if digits == 0 {
		return 0, ErrParse
	}
	return num, nil
}
