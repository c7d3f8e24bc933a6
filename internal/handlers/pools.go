package handlers

import (
	"bytes"
	"sync"
)

// bufferPool wraps sync.Pool with a fixed initial capacity so request and
// response codecs reuse buffers instead of allocating per call.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(capacity int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, capacity))
			},
		},
	}
}

func (p *bufferPool) get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *bufferPool) put(buf *bytes.Buffer) {
	buf.Reset()
	p.pool.Put(buf)
}

// Request bodies are small; responses carry whole reports and can run to
// several KB when a page has many dated media entries.
var (
	requestBuffers  = newBufferPool(4 * 1024)
	responseBuffers = newBufferPool(8 * 1024)
)

func getBuffer() *bytes.Buffer          { return requestBuffers.get() }
func putBuffer(buf *bytes.Buffer)       { requestBuffers.put(buf) }
func getResponseBuffer() *bytes.Buffer  { return responseBuffers.get() }
func putResponseBuffer(b *bytes.Buffer) { responseBuffers.put(b) }
