package transfer

import "sync"

// BufferPool hands out chunk buffers, one per active transfer.
type BufferPool struct {
	pool sync.Pool
	size int
}

func NewBufferPool(chunkSize int) *BufferPool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, chunkSize)
				return &buf
			},
		},
		size: chunkSize,
	}
}

func (p *BufferPool) Size() int { return p.size }

func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers of a foreign size are dropped.
func (p *BufferPool) Put(buf *[]byte) {
	if buf != nil && len(*buf) == p.size {
		p.pool.Put(buf)
	}
}

// Session takes a buffer from the pool for one transfer. The returned
// release func must be called once the transfer has returned.
func (p *BufferPool) Session(cfg Config) (*Session, func(), error) {
	cfg.ChunkSize = p.size
	buf := p.Get()
	s, err := NewSession(cfg, *buf)
	if err != nil {
		p.Put(buf)
		return nil, func() {}, err
	}
	return s, func() { p.Put(buf) }, nil
}
