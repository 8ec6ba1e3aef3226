package transport

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var (
	// ErrWouldBlock is returned by the Try variants when the operation would have to wait.
	ErrWouldBlock = errors.New("transport operation would block")
	// ErrTimeout is returned when a blocking operation waited longer than the configured timeout.
	ErrTimeout = errors.New("transport operation timed out")
	// ErrClosed is returned for operations on a closed queue or socket.
	ErrClosed = errors.New("transport closed")
	// ErrBufferSize is returned when an edge already in use is configured with a different buffer size.
	ErrBufferSize = errors.New("buffer size cannot change on an edge in use")
	// ErrNotConfigured is returned when buffers are requested before the buffer size is known.
	ErrNotConfigured = errors.New("queue buffer size not configured")
)

type Diagnostic interface {
	Configured(queue string, bufferSize, poolSize, capacity int)
	Closed(queue string, inFlight int)
}

type noopDiag struct{}

func (noopDiag) Configured(string, int, int, int) {}
func (noopDiag) Closed(string, int)               {}

// Queue is a bounded FIFO of filled buffers plus the pool of free buffers that feeds it.
// It connects one producer thread to one consumer thread.
// Full queues and empty pools are backpressure: the blocking operations wait,
// the Try operations return ErrWouldBlock.
type Queue struct {
	name     string
	poolSize int
	timeout  time.Duration
	clock    clock.Clock
	diag     Diagnostic

	free    chan *Buffer
	data    chan *Buffer
	closing chan struct{}

	mu         sync.Mutex
	bufferSize int
	closed     bool
}

// QueueOption modifies a queue at creation.
type QueueOption func(*Queue)

// WithClock sets the clock used to time bounded waits.
func WithClock(c clock.Clock) QueueOption {
	return func(q *Queue) { q.clock = c }
}

// WithDiagnostic sets the diagnostic handler of the queue.
func WithDiagnostic(d Diagnostic) QueueOption {
	return func(q *Queue) {
		if d != nil {
			q.diag = d
		}
	}
}

// NewQueue creates an unconfigured queue using the pool size, capacity and timeout of c.
func NewQueue(name string, c Config, opts ...QueueOption) *Queue {
	q := &Queue{
		name:     name,
		poolSize: c.PoolSize,
		timeout:  time.Duration(c.Timeout),
		clock:    clock.New(),
		diag:     noopDiag{},
		free:     make(chan *Buffer, c.PoolSize),
		data:     make(chan *Buffer, c.QueueCapacity),
		closing:  make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

// Configure allocates the pool with buffers of size bytes.
// The first call fixes the size; later calls must use the same size.
func (q *Queue) Configure(size int) error {
	if size <= 0 {
		return errors.Errorf("queue %s: invalid buffer size %d", q.name, size)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.bufferSize != 0 {
		if q.bufferSize != size {
			return errors.Wrapf(ErrBufferSize, "queue %s: configured with %d, requested %d", q.name, q.bufferSize, size)
		}
		return nil
	}
	q.bufferSize = size
	for i := 0; i < q.poolSize; i++ {
		q.free <- &Buffer{q: q, data: make([]byte, size), owner: int32(ownerPool)}
	}
	q.diag.Configured(q.name, size, q.poolSize, cap(q.data))
	return nil
}

// BufferSize returns the configured buffer size or zero.
func (q *Queue) BufferSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bufferSize
}

func (q *Queue) configured() bool {
	return q.BufferSize() != 0
}

// wait returns the channel that fires when the configured timeout has elapsed.
func (q *Queue) wait() (<-chan time.Time, func()) {
	if q.timeout <= 0 {
		return nil, func() {}
	}
	t := q.clock.Timer(q.timeout)
	return t.C, func() { t.Stop() }
}

// Acquire takes a free buffer from the pool, waiting until one is released.
func (q *Queue) Acquire(ctx context.Context) (*Buffer, error) {
	if !q.configured() {
		return nil, ErrNotConfigured
	}
	select {
	case b := <-q.free:
		b.move(ownerPool, ownerProducer)
		b.n = 0
		return b, nil
	default:
	}
	timeout, stop := q.wait()
	defer stop()
	select {
	case b := <-q.free:
		b.move(ownerPool, ownerProducer)
		b.n = 0
		return b, nil
	case <-q.closing:
		return nil, ErrClosed
	case <-timeout:
		return nil, errors.Wrapf(ErrTimeout, "queue %s: acquire", q.name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes a free buffer if one is available.
func (q *Queue) TryAcquire() (*Buffer, error) {
	if !q.configured() {
		return nil, ErrNotConfigured
	}
	select {
	case b := <-q.free:
		b.move(ownerPool, ownerProducer)
		b.n = 0
		return b, nil
	case <-q.closing:
		return nil, ErrClosed
	default:
		return nil, ErrWouldBlock
	}
}

// Push appends a filled buffer to the queue, waiting while the queue is full.
// On error the caller keeps ownership of b.
func (q *Queue) Push(ctx context.Context, b *Buffer) error {
	if q.isClosed() {
		return ErrClosed
	}
	b.move(ownerProducer, ownerQueue)
	select {
	case q.data <- b:
		return nil
	default:
	}
	timeout, stop := q.wait()
	defer stop()
	var err error
	select {
	case q.data <- b:
		return nil
	case <-q.closing:
		err = ErrClosed
	case <-timeout:
		err = errors.Wrapf(ErrTimeout, "queue %s: push", q.name)
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.move(ownerQueue, ownerProducer)
	return err
}

// TryPush appends a filled buffer if the queue has room.
func (q *Queue) TryPush(b *Buffer) error {
	if q.isClosed() {
		return ErrClosed
	}
	b.move(ownerProducer, ownerQueue)
	select {
	case q.data <- b:
		return nil
	default:
		b.move(ownerQueue, ownerProducer)
		return ErrWouldBlock
	}
}

// Pop removes the oldest filled buffer, waiting while the queue is empty.
// Buffers pushed before Close are still delivered.
func (q *Queue) Pop(ctx context.Context) (*Buffer, error) {
	select {
	case b := <-q.data:
		b.move(ownerQueue, ownerConsumer)
		return b, nil
	default:
	}
	timeout, stop := q.wait()
	defer stop()
	select {
	case b := <-q.data:
		b.move(ownerQueue, ownerConsumer)
		return b, nil
	case <-q.closing:
		return q.TryPop()
	case <-timeout:
		return nil, errors.Wrapf(ErrTimeout, "queue %s: pop", q.name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryPop removes the oldest filled buffer if there is one.
func (q *Queue) TryPop() (*Buffer, error) {
	select {
	case b := <-q.data:
		b.move(ownerQueue, ownerConsumer)
		return b, nil
	default:
		if q.isClosed() {
			return nil, ErrClosed
		}
		return nil, ErrWouldBlock
	}
}

// Release returns a buffer to the free pool.
// Consumers release popped buffers, producers may release buffers they acquired but never pushed.
func (q *Queue) Release(b *Buffer) {
	if b.q != q {
		panic("transport: buffer released to a foreign queue")
	}
	if !atomicMove(b, ownerConsumer, ownerPool) {
		b.move(ownerProducer, ownerPool)
	}
	b.n = 0
	select {
	case q.free <- b:
	default:
		panic("transport: free pool overflow on release of queue " + q.name)
	}
}

// Len returns the number of buffers in flight.
func (q *Queue) Len() int { return len(q.data) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.data) }

// IsFull reports whether a Push would block.
func (q *Queue) IsFull() bool { return len(q.data) >= cap(q.data) }

// IsEmpty reports whether a Pop would block.
func (q *Queue) IsEmpty() bool { return len(q.data) == 0 }

// Free returns the number of buffers in the free pool.
func (q *Queue) Free() int { return len(q.free) }

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close wakes all waiters with ErrClosed.
// Buffers already in flight can still be popped.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.closing)
	q.diag.Closed(q.name, len(q.data))
	return nil
}
