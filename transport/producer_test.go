package transport_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamit/streamit/checkpoint"
	"github.com/streamit/streamit/transport"
)

func ints(vs ...int32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(v))
	}
	return b
}

func newMemPair(t *testing.T, items int) (*transport.Producer, *transport.Consumer, *transport.Queue) {
	t.Helper()
	ctx := context.Background()
	q := transport.NewQueue("edge", transport.NewConfig())
	sock := transport.NewMemSocket(ctx, q)
	p, err := transport.NewProducer("edge", sock, 4, items)
	require.NoError(t, err)
	c, err := transport.NewConsumer("edge", sock, 4)
	require.NoError(t, err)
	return p, c, q
}

func TestProducer_SplitsAcrossFlushes(t *testing.T) {
	ctx := context.Background()
	p, c, q := newMemPair(t, 3)
	assert.Equal(t, 12, q.BufferSize())

	require.NoError(t, p.PushItems(ctx, ints(1, 2, 3, 4, 5, 6, 7)))
	assert.Equal(t, int64(2), p.Flushes())
	assert.Equal(t, int64(7), p.Pushed())
	assert.Equal(t, 1, p.Buffered())
	assert.Equal(t, 2, q.Len())

	for i := int32(1); i <= 6; i++ {
		v, err := c.ReadInt(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	// Item 7 is still staged in the producer.
	assert.True(t, q.IsEmpty())

	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, int64(3), p.Flushes())
	v, err := c.ReadInt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
}

func TestProducer_ShortItem(t *testing.T) {
	p, _, _ := newMemPair(t, 3)
	assert.Error(t, p.Push(context.Background(), []byte{1, 2}))
	assert.Error(t, p.PushItems(context.Background(), []byte{1, 2, 3, 4, 5}))
}

func TestProducer_CloseFlushes(t *testing.T) {
	ctx := context.Background()
	p, c, q := newMemPair(t, 4)
	require.NoError(t, p.Push(ctx, ints(9)))
	require.NoError(t, p.Push(ctx, ints(10)))
	require.NoError(t, p.Close(ctx))

	for _, exp := range []int32{9, 10} {
		v, err := c.ReadInt(ctx)
		require.NoError(t, err)
		assert.Equal(t, exp, v)
	}
	_, err := c.Pop(ctx)
	assert.True(t, errors.Is(err, transport.ErrClosed), "got %v", err)
	assert.Equal(t, 25, q.Free())
}

func TestConsumer_PeekThenPop(t *testing.T) {
	ctx := context.Background()
	p, c, _ := newMemPair(t, 2)
	require.NoError(t, p.PushItems(ctx, ints(10, 20, 30, 40)))

	peeked := make([][]byte, 3)
	for d := 2; d >= 0; d-- {
		item, err := c.Peek(ctx, d)
		require.NoError(t, err)
		peeked[d] = item
	}
	assert.Equal(t, 3, c.Buffered())
	for d := 0; d < 3; d++ {
		item, err := c.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, peeked[d], item)
	}
	item, err := c.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, ints(40), item)
	assert.Equal(t, int64(4), c.Popped())

	_, err = c.Peek(ctx, -1)
	assert.Error(t, err)
}

func TestConsumer_Checkpoint(t *testing.T) {
	ctx := context.Background()
	p, c, _ := newMemPair(t, 3)
	require.NoError(t, p.PushItems(ctx, ints(1, 2, 3)))
	_, err := c.Peek(ctx, 1)
	require.NoError(t, err)

	b := checkpoint.NewBuffer(new(bytes.Buffer))
	require.NoError(t, c.WriteObject(b))

	_, restored, _ := newMemPair(t, 3)
	require.NoError(t, restored.ReadObject(checkpoint.NewReadBuffer(b.Bytes())))
	assert.Equal(t, 2, restored.Buffered())
	for _, exp := range []int32{1, 2} {
		v, err := restored.ReadInt(ctx)
		require.NoError(t, err)
		assert.Equal(t, exp, v)
	}
}

func TestNetSocket_ProducerConsumer(t *testing.T) {
	ctx := context.Background()
	l, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan *transport.NetSocket, 1)
	go func() {
		s, err := l.Accept(ctx)
		if err != nil {
			close(accepted)
			return
		}
		accepted <- s
	}()

	conf := transport.NewConfig()
	conf.DialRetries = 2
	out, err := transport.Dial(ctx, l.Addr().String(), conf)
	require.NoError(t, err)
	in, ok := <-accepted
	require.True(t, ok)

	p, err := transport.NewProducer("net", out, 4, 2)
	require.NoError(t, err)
	c, err := transport.NewConsumer("net", in, 4)
	require.NoError(t, err)

	require.NoError(t, p.PushItems(ctx, ints(5, 6, 7)))
	require.NoError(t, p.Close(ctx))
	for _, exp := range []int32{5, 6, 7} {
		v, err := c.ReadInt(ctx)
		require.NoError(t, err)
		assert.Equal(t, exp, v)
	}
	assert.Error(t, c.PopInto(ctx, make([]byte, 4)))
	require.NoError(t, c.Close())
}
