package transport

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/streamit/streamit/checkpoint"
)

// Consumer reads fixed size items from a socket and keeps a window of
// items that have been peeked but not yet popped.
type Consumer struct {
	name     string
	sock     Socket
	mem      *MemSocket
	itemSize int

	buf *Buffer
	off int

	window *circularQueue[[]byte]
	popped int64
}

func NewConsumer(name string, sock Socket, itemSize int) (*Consumer, error) {
	if itemSize <= 0 {
		return nil, errors.Errorf("consumer %s: invalid item size %d", name, itemSize)
	}
	c := &Consumer{
		name:     name,
		sock:     sock,
		itemSize: itemSize,
		window:   newCircularQueue[[]byte](16),
	}
	if m, ok := sock.(*MemSocket); ok {
		c.mem = m
	}
	return c, nil
}

func (c *Consumer) Name() string { return c.name }

func (c *Consumer) ItemSize() int { return c.itemSize }

// Popped returns the number of items consumed.
func (c *Consumer) Popped() int64 { return c.popped }

// Buffered returns the number of items in the peek window.
func (c *Consumer) Buffered() int { return c.window.Len() }

// readItem reads the next item from the socket into dst.
func (c *Consumer) readItem(ctx context.Context, dst []byte) error {
	if c.mem == nil {
		return errors.Wrapf(c.sock.ReadChunk(dst), "consumer %s", c.name)
	}
	for len(dst) > 0 {
		if c.buf == nil {
			b, err := c.mem.q.Pop(ctx)
			if err != nil {
				return errors.Wrapf(err, "consumer %s", c.name)
			}
			c.buf, c.off = b, 0
		}
		n := copy(dst, c.buf.Bytes()[c.off:])
		c.off += n
		dst = dst[n:]
		if c.off == c.buf.Len() {
			c.mem.q.Release(c.buf)
			c.buf = nil
		}
	}
	return nil
}

// PopInto removes the next item copying it into dst.
func (c *Consumer) PopInto(ctx context.Context, dst []byte) error {
	if c.window.Len() > 0 {
		copy(dst, c.window.Dequeue())
		c.popped++
		return nil
	}
	if err := c.readItem(ctx, dst[:c.itemSize]); err != nil {
		return err
	}
	c.popped++
	return nil
}

// Pop removes the next item.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	item := make([]byte, c.itemSize)
	if err := c.PopInto(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Peek returns the item depth positions ahead without consuming it, depth 0 is the next item.
func (c *Consumer) Peek(ctx context.Context, depth int) ([]byte, error) {
	if depth < 0 {
		return nil, errors.Errorf("consumer %s: negative peek depth %d", c.name, depth)
	}
	for c.window.Len() <= depth {
		item := make([]byte, c.itemSize)
		if err := c.readItem(ctx, item); err != nil {
			return nil, err
		}
		c.window.Enqueue(item)
	}
	return c.window.Peek(depth), nil
}

func (c *Consumer) ReadInt(ctx context.Context) (int32, error) {
	var b [4]byte
	if err := c.readWord(ctx, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func (c *Consumer) ReadFloat(ctx context.Context) (float32, error) {
	var b [4]byte
	if err := c.readWord(ctx, b[:]); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b[:])), nil
}

func (c *Consumer) readWord(ctx context.Context, b []byte) error {
	if c.itemSize != len(b) {
		return errors.Errorf("consumer %s: item size is %d not %d", c.name, c.itemSize, len(b))
	}
	return c.PopInto(ctx, b)
}

// WriteObject saves the peek window.
func (c *Consumer) WriteObject(b *checkpoint.Buffer) error {
	b.WriteInt(int32(c.window.Len()))
	for i := 0; i < c.window.Len(); i++ {
		b.Write(c.window.Peek(i))
	}
	return nil
}

// ReadObject restores a peek window saved by WriteObject.
func (c *Consumer) ReadObject(b *checkpoint.Buffer) error {
	n, err := b.ReadInt()
	if err != nil {
		return err
	}
	c.window = newCircularQueue[[]byte](int(n))
	for i := int32(0); i < n; i++ {
		item := make([]byte, c.itemSize)
		if err := b.Read(item); err != nil {
			return errors.Wrapf(err, "consumer %s: restore window", c.name)
		}
		c.window.Enqueue(item)
	}
	return nil
}

// Close releases a partially read buffer and closes the socket.
func (c *Consumer) Close() error {
	if c.buf != nil {
		c.mem.q.Release(c.buf)
		c.buf = nil
	}
	return c.sock.Close()
}
