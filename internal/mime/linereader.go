package mime

import (
	"errors"
	"io"
)

const BlockSize = 256

// LineReader splits a block-read source into lines. CR and LF both end a
// line and empty lines are never returned.
type LineReader struct {
	r     io.Reader
	block [BlockSize]byte
	start int
	end   int
	eof   bool
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r}
}

// ReadLine returns the next line without its terminator. A line longer than
// max comes back in max-sized pieces. At the end of input it returns io.EOF.
func (lr *LineReader) ReadLine(max int) (string, error) {
	if max <= 0 {
		max = BlockSize
	}
	line := make([]byte, 0, max)
	for len(line) < max {
		if lr.start >= lr.end {
			if lr.eof {
				break
			}
			if err := lr.fill(); err != nil {
				if len(line) > 0 {
					return string(line), nil
				}
				return "", err
			}
			continue
		}
		c := lr.block[lr.start]
		lr.start++
		if c == '\r' || c == '\n' {
			if len(line) > 0 {
				return string(line), nil
			}
			continue
		}
		line = append(line, c)
	}
	if len(line) == 0 {
		return "", io.EOF
	}
	return string(line), nil
}

func (lr *LineReader) fill() error {
	n, err := lr.r.Read(lr.block[:])
	lr.start, lr.end = 0, n
	if errors.Is(err, io.EOF) {
		lr.eof = true
		if n == 0 {
			return io.EOF
		}
		return nil
	}
	if n == 0 && err == nil {
		return io.ErrNoProgress
	}
	if n == 0 {
		return err
	}
	return nil
}
