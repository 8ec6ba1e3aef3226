package streamit

import (
	"context"

	"github.com/streamit/streamit/checkpoint"
	"github.com/streamit/streamit/transport"
)

// Sender is a sink filter forwarding every popped item to a transport producer.
// It stands in for the downstream part of an edge that crosses threads or machines.
type Sender struct {
	p *transport.Producer
}

func NewSender(p *transport.Producer) *Sender {
	return &Sender{p: p}
}

func (s *Sender) Work(c *Context) error {
	for i := 0; i < c.Rates().Pop; i++ {
		if err := s.p.Push(c.Done(), c.Pop()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) Flush(ctx context.Context) error {
	return s.p.Flush(ctx)
}

// Teardown flushes staged items and closes the producer socket.
func (s *Sender) Teardown() error {
	return s.p.Close(context.Background())
}

// Receiver is a source filter pushing items read from a transport consumer.
type Receiver struct {
	c *transport.Consumer
}

func NewReceiver(c *transport.Consumer) *Receiver {
	return &Receiver{c: c}
}

func (r *Receiver) Work(c *Context) error {
	for i := 0; i < c.Rates().Push; i++ {
		if err := r.c.PopInto(c.Done(), c.PushSlot()); err != nil {
			return err
		}
	}
	return nil
}

// WriteObject saves items the consumer read ahead of the graph.
func (r *Receiver) WriteObject(b *checkpoint.Buffer) error {
	return r.c.WriteObject(b)
}

func (r *Receiver) ReadObject(b *checkpoint.Buffer) error {
	return r.c.ReadObject(b)
}

func (r *Receiver) Teardown() error {
	return r.c.Close()
}
