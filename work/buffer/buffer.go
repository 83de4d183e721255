package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// Pool hands out reusable byte slices for the stream copy loop, backed
// by valyala/bytebufferpool so buffers are recycled across requests
// instead of allocated per stream.
type Pool struct {
	pool      *bytebufferpool.Pool
	chunkSize int
}

// NewPool creates a pool whose buffers are sized for one copy chunk.
func NewPool(chunkSize int) *Pool {
	return &Pool{
		pool:      &bytebufferpool.Pool{},
		chunkSize: chunkSize,
	}
}

// Get returns a buffer whose backing slice holds at least one chunk.
func (p *Pool) Get() *bytebufferpool.ByteBuffer {
	buf := p.pool.Get()
	if cap(buf.B) < p.chunkSize {
		buf.B = make([]byte, 0, p.chunkSize)
	}
	buf.B = buf.B[:p.chunkSize]
	return buf
}

// Put recycles a buffer for a later stream.
func (p *Pool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		p.pool.Put(buf)
	}
}
