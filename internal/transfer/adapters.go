package transfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// FileStore adapts an open file to the store side of a transfer.
type FileStore struct {
	f    *os.File
	size int64
	pos  int64
	eof  bool
	last error
}

// NewFileStore wraps f, starting at its current offset.
func NewFileStore(f *os.File) (*FileStore, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &FileStore{f: f, size: fi.Size(), pos: pos}, nil
}

func (s *FileStore) Read(p []byte) (int, error) {
	if s.AtEnd() {
		return 0, io.EOF
	}
	n, err := s.f.Read(p)
	s.pos += int64(n)
	switch {
	case errors.Is(err, io.EOF):
		s.eof = true
	case err != nil:
		s.last = err
	}
	return n, err
}

func (s *FileStore) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.pos += int64(n)
	if s.pos > s.size {
		s.size = s.pos
	}
	if err != nil {
		s.last = err
	}
	return n, err
}

func (s *FileStore) AtEnd() bool { return s.eof || s.pos >= s.size }

func (s *FileStore) LastError() error { return s.last }

func (s *FileStore) Size() int64 { return s.size }

func (s *FileStore) File() *os.File { return s.f }

// ConnStream adapts a network connection to the stream side of a transfer.
// A write that stalls past WriteTimeout returns what was sent so far.
type ConnStream struct {
	conn         net.Conn
	writeTimeout time.Duration
}

func NewConnStream(conn net.Conn, writeTimeout time.Duration) *ConnStream {
	return &ConnStream{conn: conn, writeTimeout: writeTimeout}
}

func (c *ConnStream) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.Write(p)
}

func (c *ConnStream) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return c.conn.Read(p)
}
