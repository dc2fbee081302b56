package transfer

import (
	"fmt"
	"io"
)

// SendFragment copies up to length bytes from src to a blocking writer in
// buffer-sized pieces. There is no retry: the first empty read ends the copy
// and, when fewer than length bytes were sent, yields io.ErrUnexpectedEOF.
func SendFragment(dst io.Writer, src StoreReader, length int64, buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, ErrBufferTooSmall
	}
	var sent int64
	for sent < length {
		want := int64(len(buf))
		if rest := length - sent; rest < want {
			want = rest
		}
		n, _ := src.Read(buf[:want])
		if n <= 0 {
			if cause := src.LastError(); cause != nil {
				return sent, fmt.Errorf("send fragment: short read after %d of %d bytes: %w", sent, length, cause)
			}
			return sent, fmt.Errorf("send fragment: %d of %d bytes: %w", sent, length, io.ErrUnexpectedEOF)
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return sent, fmt.Errorf("send fragment: write: %w", err)
		}
		sent += int64(n)
	}
	return sent, nil
}
