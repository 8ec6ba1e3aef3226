package transport

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Producer stages items in a fixed size buffer and hands full buffers to a socket.
// On a MemSocket the staging buffer is a pooled queue buffer, so a flush is a single queue push.
type Producer struct {
	name     string
	sock     Socket
	mem      *MemSocket
	itemSize int
	items    int

	buf   *Buffer
	stage []byte
	off   int

	flushes int64
	pushed  int64
}

// NewProducer creates a producer of itemSize byte items flushing every items items.
// When sock is a MemSocket its queue is configured with the matching buffer size.
func NewProducer(name string, sock Socket, itemSize, items int) (*Producer, error) {
	if itemSize <= 0 || items <= 0 {
		return nil, errors.Errorf("producer %s: invalid item size %d or buffer items %d", name, itemSize, items)
	}
	p := &Producer{
		name:     name,
		sock:     sock,
		itemSize: itemSize,
		items:    items,
	}
	if m, ok := sock.(*MemSocket); ok {
		if err := m.q.Configure(itemSize * items); err != nil {
			return nil, errors.Wrapf(err, "producer %s", name)
		}
		p.mem = m
	} else {
		p.stage = make([]byte, itemSize*items)
	}
	return p, nil
}

func (p *Producer) Name() string { return p.name }

func (p *Producer) ItemSize() int { return p.itemSize }

// Buffered returns the number of staged items not yet flushed.
func (p *Producer) Buffered() int { return p.off }

// Flushes returns the number of buffers handed to the socket.
func (p *Producer) Flushes() int64 { return atomic.LoadInt64(&p.flushes) }

// Pushed returns the number of items pushed.
func (p *Producer) Pushed() int64 { return atomic.LoadInt64(&p.pushed) }

func (p *Producer) staging(ctx context.Context) ([]byte, error) {
	if p.mem == nil {
		return p.stage, nil
	}
	if p.buf == nil {
		b, err := p.mem.q.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		p.buf = b
	}
	return p.buf.Data(), nil
}

// Push appends one item, flushing when the staging buffer becomes full.
func (p *Producer) Push(ctx context.Context, item []byte) error {
	if len(item) < p.itemSize {
		return errors.Errorf("producer %s: item of %d bytes is shorter than %d", p.name, len(item), p.itemSize)
	}
	return p.PushItems(ctx, item[:p.itemSize])
}

// PushItems appends len(items)/ItemSize items, splitting them across as many flushes as needed.
func (p *Producer) PushItems(ctx context.Context, items []byte) error {
	if len(items)%p.itemSize != 0 {
		return errors.Errorf("producer %s: %d bytes is not a whole number of %d byte items", p.name, len(items), p.itemSize)
	}
	for len(items) > 0 {
		stage, err := p.staging(ctx)
		if err != nil {
			return err
		}
		n := copy(stage[p.off*p.itemSize:], items)
		p.off += n / p.itemSize
		atomic.AddInt64(&p.pushed, int64(n/p.itemSize))
		items = items[n:]
		if p.off == p.items {
			if err := p.send(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush sends a partially filled buffer immediately.
func (p *Producer) Flush(ctx context.Context) error {
	if p.off == 0 {
		return nil
	}
	return p.send(ctx)
}

func (p *Producer) send(ctx context.Context) error {
	n := p.off * p.itemSize
	if p.mem != nil {
		p.buf.SetLen(n)
		if err := p.mem.q.Push(ctx, p.buf); err != nil {
			return errors.Wrapf(err, "producer %s", p.name)
		}
		p.buf = nil
	} else if err := p.sock.WriteChunk(p.stage[:n]); err != nil {
		return errors.Wrapf(err, "producer %s", p.name)
	}
	p.off = 0
	atomic.AddInt64(&p.flushes, 1)
	return nil
}

// Close flushes staged items and closes the socket.
func (p *Producer) Close(ctx context.Context) error {
	err := p.Flush(ctx)
	if p.buf != nil {
		p.mem.q.Release(p.buf)
		p.buf = nil
	}
	if cerr := p.sock.Close(); err == nil {
		err = cerr
	}
	return err
}
