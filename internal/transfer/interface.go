package transfer

import "time"

type Direction string

const (
	DirStoreToStream Direction = "store_to_stream"
	DirStreamToStore Direction = "stream_to_store"
)

// StoreReader is the readable side of a file on the volume.
// A zero-byte Read while AtEnd is false is a transient failure.
type StoreReader interface {
	Read(p []byte) (int, error)
	AtEnd() bool
	LastError() error
}

// StoreWriter is the writable side of a file on the volume.
type StoreWriter interface {
	Write(p []byte) (int, error)
	LastError() error
}

// StreamWriter is a network connection that may accept only part of a
// write, or nothing at all when its send buffers are full.
type StreamWriter interface {
	Write(p []byte) (int, error)
}

// StreamReader is a network connection read with a bounded wait.
// It returns io.EOF once the peer has closed the stream.
type StreamReader interface {
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
}

// Progress is reported after every chunk that was fully written.
type Progress struct {
	Direction  Direction
	Chunk      int
	ChunkBytes int
	Bytes      int64
}
