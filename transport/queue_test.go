package transport_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamit/streamit/transport"
)

func newQueue(t *testing.T, size int, opts ...transport.QueueOption) *transport.Queue {
	t.Helper()
	q := transport.NewQueue("edge", transport.NewConfig(), opts...)
	require.NoError(t, q.Configure(size))
	return q
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, 4)
	assert.Equal(t, 25, q.Free())
	assert.Equal(t, 24, q.Cap())

	for i := 0; i < 24; i++ {
		b, err := q.Acquire(ctx)
		require.NoError(t, err)
		b.Data()[0] = byte(i)
		b.SetLen(1)
		require.NoError(t, q.Push(ctx, b))
	}
	assert.True(t, q.IsFull())
	assert.Equal(t, 1, q.Free())

	for i := 0; i < 24; i++ {
		b, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, b.Bytes())
		q.Release(b)
	}
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 25, q.Free())
}

func TestQueue_PushBlocksWhenFull(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, 4)
	for i := 0; i < 24; i++ {
		b, err := q.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Push(ctx, b))
	}
	last, err := q.TryAcquire()
	require.NoError(t, err)
	_, err = q.TryAcquire()
	assert.Equal(t, transport.ErrWouldBlock, err)
	assert.Equal(t, transport.ErrWouldBlock, q.TryPush(last))

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(ctx, last)
	}()
	select {
	case err := <-pushed:
		t.Fatalf("push on a full queue returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	b, err := q.Pop(ctx)
	require.NoError(t, err)
	q.Release(b)
	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("push did not resume after pop")
	}
	assert.Equal(t, 24, q.Len())
}

func TestQueue_Timeout(t *testing.T) {
	c := transport.NewConfig()
	c.PoolSize = 1
	c.QueueCapacity = 1
	c.Timeout = toml.Duration(time.Second)
	mock := clock.NewMock()
	q := transport.NewQueue("edge", c, transport.WithClock(mock))
	require.NoError(t, q.Configure(8))

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				mock.Add(time.Second)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	_, err := q.Pop(context.Background())
	assert.True(t, errors.Is(err, transport.ErrTimeout), "got %v", err)

	b, err := q.Acquire(context.Background())
	require.NoError(t, err)
	_, err = q.Acquire(context.Background())
	assert.True(t, errors.Is(err, transport.ErrTimeout), "got %v", err)
	q.Release(b)
}

func TestQueue_ContextCanceled(t *testing.T) {
	q := newQueue(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.Equal(t, context.Canceled, err)
	_, err = q.TryPop()
	assert.Equal(t, transport.ErrWouldBlock, err)
}

func TestQueue_Configure(t *testing.T) {
	q := transport.NewQueue("edge", transport.NewConfig())
	_, err := q.TryAcquire()
	assert.Equal(t, transport.ErrNotConfigured, err)

	require.NoError(t, q.Configure(16))
	require.NoError(t, q.Configure(16))
	err = q.Configure(32)
	assert.True(t, errors.Is(err, transport.ErrBufferSize), "got %v", err)
	assert.Equal(t, 16, q.BufferSize())
}

func TestQueue_Close(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, 4)
	b, err := q.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Push(ctx, b))
	require.NoError(t, q.Close())

	// In flight buffers drain after close.
	got, err := q.Pop(ctx)
	require.NoError(t, err)
	q.Release(got)

	_, err = q.Pop(ctx)
	assert.Equal(t, transport.ErrClosed, err)
	_, err = q.TryAcquire()
	assert.Equal(t, transport.ErrClosed, err)
}

func TestQueue_OwnershipPanics(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, 4)
	other := newQueue(t, 4)

	b, err := q.Acquire(ctx)
	require.NoError(t, err)
	assert.Panics(t, func() { other.Release(b) }, "foreign release")

	require.NoError(t, q.Push(ctx, b))
	assert.Panics(t, func() { q.Push(ctx, b) }, "push of an in flight buffer")

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	q.Release(got)
	assert.Panics(t, func() { q.Release(got) }, "double release")
}

func TestCollector(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, 4)
	for i := 0; i < 2; i++ {
		b, err := q.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Push(ctx, b))
	}
	c := transport.NewCollector()
	c.AddQueue(q)

	exp := `
# HELP streamit_transport_queue_depth Number of filled buffers in flight on an edge.
# TYPE streamit_transport_queue_depth gauge
streamit_transport_queue_depth{edge="edge"} 2
# HELP streamit_transport_queue_free_buffers Number of buffers in the free pool of an edge.
# TYPE streamit_transport_queue_free_buffers gauge
streamit_transport_queue_free_buffers{edge="edge"} 23
`
	err := testutil.CollectAndCompare(c, strings.NewReader(exp),
		"streamit_transport_queue_depth", "streamit_transport_queue_free_buffers")
	assert.NoError(t, err)

	c.Remove("edge")
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}
