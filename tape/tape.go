/*
 Package tape implements the fixed capacity circular buffers that connect
 exactly two endpoints of a stream graph.

 A tape stores items of a fixed size in a byte array whose length is a power
 of two multiple of the item size. Read and write cursors run freely and are
 masked only when indexing, so Len is always the number of unread items.
*/
package tape

import (
	"fmt"

	"github.com/pkg/errors"
)

// Op names the tape operation that failed.
type Op string

const (
	OpPush Op = "push"
	OpPop  Op = "pop"
	OpPeek Op = "peek"
)

// Error is the panic value raised when an endpoint violates the tape's capacity.
// The scheduler recovers it and reports it as a regular error.
type Error struct {
	Op    Op
	Len   int
	Cap   int
	Depth int
}

func (e *Error) Error() string {
	switch e.Op {
	case OpPush:
		return fmt.Sprintf("tape overflow: push with %d/%d items", e.Len, e.Cap)
	case OpPeek:
		return fmt.Sprintf("tape underflow: peek depth %d with %d items", e.Depth, e.Len)
	default:
		return fmt.Sprintf("tape underflow: %s with %d items", e.Op, e.Len)
	}
}

// Tape is a circular buffer of fixed size items.
// A tape is not safe for concurrent use, each end is owned by one node of the same thread.
type Tape struct {
	data     []byte
	itemSize int
	capacity uint64
	mask     uint64
	read     uint64
	write    uint64
}

// New creates a tape holding at least length items of itemSize bytes.
// The capacity is rounded up to the next power of two.
func New(itemSize, length int) *Tape {
	if itemSize < 0 {
		panic("tape: negative item size")
	}
	c := NextPow2(length)
	return &Tape{
		data:     make([]byte, c*itemSize),
		itemSize: itemSize,
		capacity: uint64(c),
		mask:     uint64(c - 1),
	}
}

// NextPow2 returns the smallest power of two that is >= n and at least 1.
func NextPow2(n int) int {
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}

// ItemSize returns the size in bytes of a single item.
func (t *Tape) ItemSize() int { return t.itemSize }

// Cap returns the number of items the tape can hold.
func (t *Tape) Cap() int { return int(t.capacity) }

// Len returns the number of unread items.
func (t *Tape) Len() int { return int(t.write - t.read) }

// Free returns the number of items that can be pushed before the tape is full.
func (t *Tape) Free() int { return int(t.capacity - (t.write - t.read)) }

func (t *Tape) slot(pos uint64) []byte {
	off := int(pos&t.mask) * t.itemSize
	return t.data[off : off+t.itemSize : off+t.itemSize]
}

// Push copies item onto the tape.
// Only the first ItemSize bytes of item are used.
func (t *Tape) Push(item []byte) {
	copyItem(t.WriteSlot(), item, t.itemSize)
	t.write++
}

// WriteSlot returns the storage of the next item to be written.
// The slot is published by AdvanceWrite.
func (t *Tape) WriteSlot() []byte {
	if t.write-t.read >= t.capacity {
		panic(&Error{Op: OpPush, Len: t.Len(), Cap: t.Cap()})
	}
	return t.slot(t.write)
}

// AdvanceWrite publishes the slot returned by WriteSlot.
func (t *Tape) AdvanceWrite() {
	if t.write-t.read >= t.capacity {
		panic(&Error{Op: OpPush, Len: t.Len(), Cap: t.Cap()})
	}
	t.write++
}

// Pop removes the next item and returns its storage.
// The returned slice is only valid until the next Push.
func (t *Tape) Pop() []byte {
	s := t.ReadSlot()
	t.read++
	return s
}

// PopInto removes the next item copying it into dst.
func (t *Tape) PopInto(dst []byte) {
	copyItem(dst, t.ReadSlot(), t.itemSize)
	t.read++
}

// ReadSlot returns the storage of the next item to be read without consuming it.
func (t *Tape) ReadSlot() []byte {
	if t.write == t.read {
		panic(&Error{Op: OpPop, Cap: t.Cap()})
	}
	return t.slot(t.read)
}

// AdvanceRead consumes the next item.
func (t *Tape) AdvanceRead() {
	if t.write == t.read {
		panic(&Error{Op: OpPop, Cap: t.Cap()})
	}
	t.read++
}

// Peek returns the item depth positions ahead of the read cursor, depth 0 is the next item to be popped.
// The read cursor does not move.
func (t *Tape) Peek(depth int) []byte {
	if depth < 0 || depth >= t.Len() {
		panic(&Error{Op: OpPeek, Len: t.Len(), Cap: t.Cap(), Depth: depth})
	}
	return t.slot(t.read + uint64(depth))
}

// Reset drops all unread items.
func (t *Tape) Reset() {
	t.read, t.write = 0, 0
}

// Snapshot returns a copy of the unread items in read order.
func (t *Tape) Snapshot() []byte {
	n := t.Len()
	b := make([]byte, 0, n*t.itemSize)
	for i := 0; i < n; i++ {
		b = append(b, t.slot(t.read+uint64(i))...)
	}
	return b
}

// Restore replaces the contents of the tape with the items in b.
func (t *Tape) Restore(b []byte) error {
	if t.itemSize == 0 {
		t.Reset()
		return nil
	}
	if len(b)%t.itemSize != 0 {
		return errors.Errorf("tape restore: %d bytes is not a multiple of item size %d", len(b), t.itemSize)
	}
	n := len(b) / t.itemSize
	if n > t.Cap() {
		return errors.Errorf("tape restore: %d items exceed capacity %d", n, t.Cap())
	}
	t.Reset()
	for i := 0; i < n; i++ {
		t.Push(b[i*t.itemSize:])
	}
	return nil
}

// Copy moves the next item of src onto dst.
// Both tapes must have the same item size.
func Copy(dst, src *Tape) {
	copyItem(dst.WriteSlot(), src.ReadSlot(), dst.itemSize)
	dst.write++
	src.read++
}
