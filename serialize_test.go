package streamit_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamit/streamit"
	"github.com/streamit/streamit/checkpoint"
)

// newStatefulGraph has state in a filter, in a peeking tape, in a feedback delay and in
// pending portal messages.
func newStatefulGraph(t *testing.T) (*streamit.Graph, *streamit.Portal, *collector) {
	id := mustID(t)
	g := streamit.NewGraph("stateful")
	p := id(g.NewPipeline("p"))
	require.NoError(t, g.Add(p, id(g.NewFilter("src", &counter{}, streamit.Rates{Push: 1}))))
	require.NoError(t, g.Add(p, id(g.NewFilter("sum3", workFunc(func(c *streamit.Context) error {
		c.PushInt32(c.PeekInt32(0) + c.PeekInt32(1) + c.PeekInt32(2))
		c.PopInt32()
		return nil
	}), streamit.Rates{Peek: 3, Pop: 1, Push: 1}))))

	loop := id(g.NewFeedbackLoop("acc"))
	require.NoError(t, g.Add(loop, id(g.NewFilter("add", workFunc(func(c *streamit.Context) error {
		s := c.PopInt32() + c.PopInt32()
		c.PushInt32(s)
		c.PushInt32(s % 1000)
		return nil
	}), streamit.Rates{Pop: 2, Push: 2}))))
	require.NoError(t, g.Add(loop, id(g.NewFilter("back", &identity{}, streamit.Rates{Pop: 1, Push: 1}))))
	require.NoError(t, g.SetJoiner(loop, streamit.RoundRobin, 2))
	require.NoError(t, g.SetSplitter(loop, streamit.RoundRobin, 2))
	require.NoError(t, g.SetDelay(loop, 2, putInt32(7)))
	require.NoError(t, g.Add(p, loop))

	f := &gain{factor: 1}
	gid := id(g.NewFilter("gain", f, streamit.Rates{Pop: 1, Push: 1}))
	require.NoError(t, g.Add(p, gid))
	out := &collector{}
	require.NoError(t, g.Add(p, id(g.NewFilter("sink", out, streamit.Rates{Pop: 1}))))

	portal := g.NewPortal("control")
	require.NoError(t, portal.RegisterReceiver(gid, f.capabilities(), streamit.Range(0, 100)))
	require.NoError(t, g.Init())
	return g, portal, out
}

func TestGraph_CheckpointResume(t *testing.T) {
	ctx := context.Background()

	// Uninterrupted reference run.
	ref, refPortal, refOut := newStatefulGraph(t)
	require.NoError(t, ref.Run(ctx, 90))
	require.NoError(t, refPortal.Send(setGain, streamit.Exact(20), gainMessage(3)))
	require.NoError(t, ref.Run(ctx, 60))

	conf := checkpoint.NewConfig()
	conf.Enabled = true
	conf.Dir = t.TempDir()
	store, err := checkpoint.NewStore(conf, nil)
	require.NoError(t, err)

	before, portal, beforeOut := newStatefulGraph(t)
	require.NoError(t, before.Run(ctx, 90))
	require.NoError(t, portal.Send(setGain, streamit.Exact(20), gainMessage(3)))
	require.NoError(t, before.Run(ctx, 10))
	require.Equal(t, 1, portal.Pending())
	require.NoError(t, store.Save(0, before.Iteration(), before))
	require.NoError(t, before.Teardown())

	// A new process builds the same graph and resumes it.
	after, afterPortal, afterOut := newStatefulGraph(t)
	iter, resumed, err := store.Resume(0, after)
	require.NoError(t, err)
	require.True(t, resumed)
	assert.Equal(t, uint64(100), iter)
	assert.Equal(t, uint64(100), after.Iteration())
	assert.Equal(t, 1, afterPortal.Pending())
	require.NoError(t, after.Run(ctx, 50))

	got := append(append([]int32(nil), beforeOut.got...), afterOut.got...)
	assert.Equal(t, refOut.got, got)
	assert.Equal(t, uint64(150), after.Iteration())
}

func TestGraph_ReadObjectErrors(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newStatefulGraph(t)
	require.NoError(t, g.Run(ctx, 3))
	var buf bytes.Buffer
	require.NoError(t, g.WriteObject(checkpoint.NewBuffer(&buf)))

	// Running graphs cannot be restored.
	err := g.ReadObject(checkpoint.NewReadBuffer(buf.Bytes()))
	assert.True(t, errors.Is(err, streamit.ErrInvalidState), "got %v", err)

	other, _ := newAccumulator(t, 1)
	require.NoError(t, other.Init())
	err = other.ReadObject(checkpoint.NewReadBuffer(buf.Bytes()))
	assert.True(t, errors.Is(err, checkpoint.ErrCorrupt), "got %v", err)

	fresh, _, _ := newStatefulGraph(t)
	err = fresh.ReadObject(checkpoint.NewReadBuffer(buf.Bytes()[:buf.Len()/2]))
	assert.True(t, errors.Is(err, checkpoint.ErrCorrupt), "got %v", err)
}
