//go:build !linux

package counter

import "io"

func (s *Source) readAtStart() (int, error) {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := s.file.Read(s.buf[:])
	if err == io.EOF {
		return 0, nil
	}
	return n, err
}
