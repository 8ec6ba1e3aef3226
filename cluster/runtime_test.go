package cluster_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/streamit/streamit"
	"github.com/streamit/streamit/checkpoint"
	"github.com/streamit/streamit/cluster"
	"github.com/streamit/streamit/services/diagnostic"
	"github.com/streamit/streamit/transport"
)

var _ cluster.Diagnostic = (*diagnostic.ClusterHandler)(nil)

type source struct {
	next int32
}

func (s *source) Work(c *streamit.Context) error {
	c.PushInt32(s.next)
	s.next++
	return nil
}

func (s *source) WriteObject(b *checkpoint.Buffer) error {
	b.WriteInt(s.next)
	return nil
}

func (s *source) ReadObject(b *checkpoint.Buffer) (err error) {
	s.next, err = b.ReadInt()
	return err
}

// sink sums what it pops and remembers the values seen by this process.
type sink struct {
	sum int64
	got []int32
}

func (s *sink) Work(c *streamit.Context) error {
	v := c.PopInt32()
	s.sum += int64(v)
	s.got = append(s.got, v)
	return nil
}

func (s *sink) WriteObject(b *checkpoint.Buffer) error {
	b.WriteUint64(uint64(s.sum))
	return nil
}

func (s *sink) ReadObject(b *checkpoint.Buffer) error {
	v, err := b.ReadUint64()
	s.sum = int64(v)
	return err
}

func build(t *testing.T, name string, stages ...func(g *streamit.Graph) (streamit.NodeID, error)) *streamit.Graph {
	t.Helper()
	g := streamit.NewGraph(name)
	p, err := g.NewPipeline(name)
	require.NoError(t, err)
	for _, stage := range stages {
		id, err := stage(g)
		require.NoError(t, err)
		require.NoError(t, g.Add(p, id))
	}
	return g
}

func filter(name string, f streamit.Filter, r streamit.Rates) func(g *streamit.Graph) (streamit.NodeID, error) {
	return func(g *streamit.Graph) (streamit.NodeID, error) { return g.NewFilter(name, f, r) }
}

func upstream(t *testing.T, p *transport.Producer) (*streamit.Graph, *source) {
	src := &source{}
	return build(t, "up",
		filter("src", src, streamit.Rates{Push: 1}),
		filter("send", streamit.NewSender(p), streamit.Rates{Pop: 1}),
	), src
}

func downstream(t *testing.T, c *transport.Consumer) (*streamit.Graph, *sink) {
	out := &sink{}
	return build(t, "down",
		filter("recv", streamit.NewReceiver(c), streamit.Rates{Push: 1}),
		filter("sink", out, streamit.Rates{Pop: 1}),
	), out
}

func newRuntime(t *testing.T, c cluster.Config, opts ...cluster.Option) *cluster.Runtime {
	t.Helper()
	opts = append(opts, cluster.WithDiagService(diagnostic.NewServiceWithLogger(zaptest.NewLogger(t))))
	r, err := cluster.NewRuntime(c, opts...)
	require.NoError(t, err)
	require.NoError(t, r.Open())
	return r
}

func localConfig() cluster.Config {
	c := cluster.NewConfig()
	c.Transport.BufferItems = 8
	c.Partitions = []cluster.Partition{{Thread: 0}, {Thread: 1}}
	return c
}

func TestRuntime_LocalEdge(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewPedanticRegistry()
	r := newRuntime(t, localConfig(), cluster.WithRegisterer(reg))

	p, c, err := r.Edge(ctx, 1, 0, 1, 4)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, c)

	up, _ := upstream(t, p)
	down, out := downstream(t, c)
	require.NoError(t, r.AddThread(0, up))
	require.NoError(t, r.AddThread(1, down))
	assert.Error(t, r.AddThread(1, down))

	require.NoError(t, r.Run(ctx, 50))
	require.Len(t, out.got, 50)
	for i, v := range out.got {
		assert.Equal(t, int32(i), v)
	}
	assert.Equal(t, uint64(50), up.Iteration())
	assert.Equal(t, uint64(50), down.Iteration())
	assert.Equal(t, int64(7), p.Flushes())

	n, err := testutil.GatherAndCount(reg, "streamit_cluster_iterations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = testutil.GatherAndCount(reg, "streamit_transport_queue_depth")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.Close())
	assert.Equal(t, streamit.TornDown, up.State())
	assert.Equal(t, streamit.TornDown, down.State())
}

func TestRuntime_RunNotOpen(t *testing.T) {
	r, err := cluster.NewRuntime(localConfig())
	require.NoError(t, err)
	assert.Error(t, r.Run(context.Background(), 1))
}

type unready struct{ sink }

func (*unready) Init() error { return errors.New("no device") }

func TestRuntime_InitFailure(t *testing.T) {
	ctx := context.Background()
	r := newRuntime(t, localConfig())
	g := build(t, "broken",
		filter("src", &source{}, streamit.Rates{Push: 1}),
		filter("sink", &unready{}, streamit.Rates{Pop: 1}),
	)
	require.NoError(t, r.AddThread(0, g))

	err := r.Run(ctx, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init thread 0: init sink: no device")
	assert.Equal(t, streamit.Failed, g.State())

	err = r.Run(ctx, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device")
	assert.Zero(t, g.Iteration())

	require.NoError(t, r.Close())
	assert.Equal(t, streamit.TornDown, g.State())
}

func TestRuntime_CheckpointResume(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := localConfig()
	c.Checkpoint.Enabled = true
	c.Checkpoint.Dir = filepath.Join(dir, "checkpoints")
	c.Checkpoint.Interval = 10
	c.Storage.BoltDBPath = filepath.Join(dir, "streamit.db")

	r := newRuntime(t, c)
	p, cons, err := r.Edge(ctx, 1, 0, 1, 4)
	require.NoError(t, err)
	up, _ := upstream(t, p)
	down, out := downstream(t, cons)
	require.NoError(t, r.AddThread(0, up))
	require.NoError(t, r.AddThread(1, down))
	require.NoError(t, r.Run(ctx, 25))
	assert.Equal(t, int64(300), out.sum)

	iters, err := r.Checkpoints().List(1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20}, iters)
	require.NoError(t, r.Close())

	// A new process restores both threads at iteration 20 and replays 20..24.
	r = newRuntime(t, c)
	defer r.Close()
	p, cons, err = r.Edge(ctx, 1, 0, 1, 4)
	require.NoError(t, err)
	up, src := upstream(t, p)
	down, out = downstream(t, cons)
	require.NoError(t, r.AddThread(0, up))
	require.NoError(t, r.AddThread(1, down))
	require.NoError(t, r.Run(ctx, 10))

	assert.Equal(t, int32(30), src.next)
	assert.Equal(t, uint64(30), down.Iteration())
	assert.Equal(t, []int32{20, 21, 22, 23, 24, 25, 26, 27, 28, 29}, out.got)
	assert.Equal(t, int64(435), out.sum)

	start, err := r.Checkpoints().Registry().StartIteration(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), start)
}

func TestRuntime_ResumeFromOldestThread(t *testing.T) {
	ctx := context.Background()
	c := localConfig()
	c.Checkpoint.Enabled = true
	c.Checkpoint.Dir = t.TempDir()
	reg := checkpoint.NewMemRegistry()

	r := newRuntime(t, c, cluster.WithRegistry(reg))
	up := build(t, "up", filter("src", &source{}, streamit.Rates{Push: 1}), filter("drop", &sink{}, streamit.Rates{Pop: 1}))
	require.NoError(t, up.Init())
	require.NoError(t, up.Run(ctx, 4))
	require.NoError(t, r.Checkpoints().Save(0, 4, up))
	require.NoError(t, up.Run(ctx, 4))
	require.NoError(t, r.Checkpoints().Save(0, 8, up))

	other := build(t, "other", filter("src", &source{}, streamit.Rates{Push: 1}), filter("drop", &sink{}, streamit.Rates{Pop: 1}))
	require.NoError(t, other.Init())
	require.NoError(t, other.Run(ctx, 4))
	require.NoError(t, r.Checkpoints().Save(1, 4, other))
	// thread 5 belongs to an earlier placement
	require.NoError(t, r.Checkpoints().Save(5, 2, other))
	require.NoError(t, r.Close())

	r = newRuntime(t, c, cluster.WithRegistry(reg))
	defer r.Close()
	src0, src1 := &source{}, &source{}
	g0 := build(t, "up", filter("src", src0, streamit.Rates{Push: 1}), filter("drop", &sink{}, streamit.Rates{Pop: 1}))
	g1 := build(t, "other", filter("src", src1, streamit.Rates{Push: 1}), filter("drop", &sink{}, streamit.Rates{Pop: 1}))
	require.NoError(t, r.AddThread(0, g0))
	require.NoError(t, r.AddThread(1, g1))
	require.NoError(t, r.Run(ctx, 1))

	// thread 0 reached 8 but thread 1 only 4, so both restart from 4
	assert.Equal(t, uint64(5), g0.Iteration())
	assert.Equal(t, uint64(5), g1.Iteration())
	assert.Equal(t, int32(5), src0.next)
	assert.Equal(t, int32(5), src1.next)

	threads, err := reg.Threads()
	require.NoError(t, err)
	assert.NotContains(t, threads, 5)
	iters, err := r.Checkpoints().List(5)
	require.NoError(t, err)
	assert.Empty(t, iters)
}

func TestRuntime_TCPEdge(t *testing.T) {
	ctx := context.Background()

	c1 := cluster.NewConfig()
	c1.LocalMachine = "m1"
	c1.Machines = []cluster.Machine{{ID: "m0", Address: "127.0.0.1:0"}, {ID: "m1", Address: "127.0.0.1:0"}}
	c1.Partitions = []cluster.Partition{{Thread: 0, Machine: "m0"}, {Thread: 1, Machine: "m1"}}
	r1 := newRuntime(t, c1)
	defer r1.Close()
	require.NotEmpty(t, r1.Addr())

	c0 := c1
	c0.LocalMachine = "m0"
	c0.Transport.BufferItems = 16
	c0.Machines = []cluster.Machine{{ID: "m0", Address: "127.0.0.1:0"}, {ID: "m1", Address: r1.Addr()}}
	r0 := newRuntime(t, c0)
	defer r0.Close()

	p, c, err := r0.Edge(ctx, 7, 0, 1, 4)
	require.NoError(t, err)
	assert.Nil(t, c)
	p1, cons, err := r1.Edge(ctx, 7, 0, 1, 4)
	require.NoError(t, err)
	assert.Nil(t, p1)

	up, _ := upstream(t, p)
	down, out := downstream(t, cons)
	require.NoError(t, r0.AddThread(0, up))
	assert.Error(t, r0.AddThread(1, down), "thread 1 runs on m1")
	require.NoError(t, r1.AddThread(1, down))

	var eg errgroup.Group
	eg.Go(func() error { return r1.Run(ctx, 40) })
	eg.Go(func() error { return r0.Run(ctx, 40) })
	require.NoError(t, eg.Wait())

	require.Len(t, out.got, 40)
	assert.Equal(t, int32(39), out.got[39])
	assert.Equal(t, int64(780), out.sum)
}
