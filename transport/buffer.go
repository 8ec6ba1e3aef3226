package transport

import (
	"fmt"
	"sync/atomic"
)

type owner int32

const (
	ownerPool owner = iota
	ownerProducer
	ownerQueue
	ownerConsumer
)

func (o owner) String() string {
	switch o {
	case ownerPool:
		return "pool"
	case ownerProducer:
		return "producer"
	case ownerQueue:
		return "queue"
	case ownerConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Buffer is a pooled chunk of memory that moves between the free pool,
// a producer, the in flight queue and a consumer.
// It has exactly one owner at any time.
type Buffer struct {
	q     *Queue
	data  []byte
	n     int
	owner int32
}

// Bytes returns the filled part of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Data returns the whole storage of the buffer.
func (b *Buffer) Data() []byte { return b.data }

// Len returns the number of filled bytes.
func (b *Buffer) Len() int { return b.n }

// Cap returns the size of the buffer.
func (b *Buffer) Cap() int { return len(b.data) }

// SetLen marks the first n bytes as filled.
func (b *Buffer) SetLen(n int) {
	if n < 0 || n > len(b.data) {
		panic(fmt.Sprintf("transport: buffer length %d out of range [0,%d]", n, len(b.data)))
	}
	b.n = n
}

// move hands the buffer from one owner to the next.
// A buffer that is not held by the expected owner means the pool is corrupt, which cannot be recovered from.
func (b *Buffer) move(from, to owner) {
	if !atomic.CompareAndSwapInt32(&b.owner, int32(from), int32(to)) {
		panic(fmt.Sprintf("transport: buffer owned by %v cannot move from %v to %v",
			owner(atomic.LoadInt32(&b.owner)), from, to))
	}
}

func atomicMove(b *Buffer, from, to owner) bool {
	return atomic.CompareAndSwapInt32(&b.owner, int32(from), int32(to))
}
