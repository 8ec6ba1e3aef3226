// Package bufpool recycles the byte buffers used to stage serialized state.
package bufpool

import (
	"bytes"
	"sync"
)

// DefaultMaxRetained is the largest buffer capacity New keeps for reuse.
const DefaultMaxRetained = 16 << 20

type Pool struct {
	p           sync.Pool
	maxRetained int
}

// New returns a pool keeping buffers of up to DefaultMaxRetained bytes.
func New() *Pool {
	return NewWithLimit(DefaultMaxRetained)
}

// NewWithLimit returns a pool that drops buffers grown past max bytes on Close
// instead of keeping them alive for the next checkpoint.
func NewWithLimit(max int) *Pool {
	p := &Pool{maxRetained: max}
	p.p.New = func() interface{} {
		return &ClosingBuffer{pool: p}
	}
	return p
}

// Get returns an empty buffer. Close returns it to the pool.
func (p *Pool) Get() *ClosingBuffer {
	return p.p.Get().(*ClosingBuffer)
}

func (p *Pool) put(cb *ClosingBuffer) bool {
	if cb.Cap() > p.maxRetained {
		return false
	}
	cb.Reset()
	p.p.Put(cb)
	return true
}

// ClosingBuffer is a bytes.Buffer that goes back to its pool on Close.
// It must not be used after Close.
type ClosingBuffer struct {
	bytes.Buffer
	pool *Pool
}

func (cb *ClosingBuffer) Close() error {
	cb.pool.put(cb)
	return nil
}
