/*
 Package transport moves stream items between threads and machines.

 A Queue is a bounded exchange of pooled buffers between one producer thread
 and one consumer thread. A Socket is a byte chunk stream implemented both by
 a MemSocket, backed by a Queue, and by a NetSocket, backed by a TCP
 connection, so the Producer and Consumer on either end do not depend on where
 the other end runs.
*/
package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
)

// Socket reads and writes whole chunks of bytes.
type Socket interface {
	// ReadChunk fills p entirely or returns an error.
	ReadChunk(p []byte) error
	// WriteChunk writes all of p or returns an error.
	WriteChunk(p []byte) error
	Close() error
}

// MemSocket is a Socket over a Queue for edges between threads of the same process.
type MemSocket struct {
	q   *Queue
	ctx context.Context

	rmu  sync.Mutex
	rbuf *Buffer
	roff int
}

// NewMemSocket wraps q. Operations on the socket are canceled with ctx.
func NewMemSocket(ctx context.Context, q *Queue) *MemSocket {
	return &MemSocket{q: q, ctx: ctx}
}

// Queue returns the underlying queue.
func (s *MemSocket) Queue() *Queue { return s.q }

// WriteChunk copies p into pooled buffers and pushes them.
// The queue is configured with a default buffer size if nothing else configured it first.
func (s *MemSocket) WriteChunk(p []byte) error {
	if !s.q.configured() {
		if err := s.q.Configure(DefaultBufferItems); err != nil {
			return err
		}
	}
	for len(p) > 0 {
		b, err := s.q.Acquire(s.ctx)
		if err != nil {
			return err
		}
		n := copy(b.Data(), p)
		b.SetLen(n)
		if err := s.q.Push(s.ctx, b); err != nil {
			s.q.Release(b)
			return err
		}
		p = p[n:]
	}
	return nil
}

// ReadChunk fills p from popped buffers, releasing each buffer once it is drained.
func (s *MemSocket) ReadChunk(p []byte) error {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	for len(p) > 0 {
		if s.rbuf == nil {
			b, err := s.q.Pop(s.ctx)
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return io.ErrUnexpectedEOF
				}
				return err
			}
			s.rbuf, s.roff = b, 0
		}
		n := copy(p, s.rbuf.Bytes()[s.roff:])
		s.roff += n
		p = p[n:]
		if s.roff == s.rbuf.Len() {
			s.q.Release(s.rbuf)
			s.rbuf = nil
		}
	}
	return nil
}

// Close closes the queue, the reader may still drain buffers in flight.
func (s *MemSocket) Close() error {
	return s.q.Close()
}

// NetSocket is a Socket over a network connection.
type NetSocket struct {
	conn net.Conn
}

func NewNetSocket(conn net.Conn) *NetSocket {
	return &NetSocket{conn: conn}
}

func (s *NetSocket) ReadChunk(p []byte) error {
	_, err := io.ReadFull(s.conn, p)
	return err
}

func (s *NetSocket) WriteChunk(p []byte) error {
	for len(p) > 0 {
		n, err := s.conn.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (s *NetSocket) Close() error {
	return s.conn.Close()
}

func (s *NetSocket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Dial connects to addr retrying with exponential backoff up to c.DialRetries times.
func Dial(ctx context.Context, addr string, c Config) (*NetSocket, error) {
	d := net.Dialer{Timeout: time.Duration(c.DialTimeout)}
	var conn net.Conn
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.DialRetries)), ctx)
	err := backoff.Retry(func() error {
		var err error
		conn, err = d.DialContext(ctx, "tcp", addr)
		return err
	}, b)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return NewNetSocket(conn), nil
}

// Listener accepts NetSockets.
type Listener struct {
	l net.Listener
}

func Listen(addr string) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	return &Listener{l: l}, nil
}

func (l *Listener) Addr() net.Addr { return l.l.Addr() }

// Accept waits for the next connection or for ctx to be done.
func (l *Listener) Accept(ctx context.Context) (*NetSocket, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.l.Accept()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return NewNetSocket(r.conn), nil
	case <-ctx.Done():
		l.l.Close()
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	return l.l.Close()
}
