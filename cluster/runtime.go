/*
 Package cluster runs the threads of a partitioned stream graph.

 Each thread is a streamit.Graph driven by its own goroutine. Edges between
 threads become transport sockets: an in memory queue when both threads run
 in this process, a TCP connection to the consumer's machine otherwise. The
 runtime checkpoints every thread at the same iterations and on start resumes
 all of them from the newest iteration every thread has reached.
*/
package cluster

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/streamit/streamit"
	"github.com/streamit/streamit/checkpoint"
	"github.com/streamit/streamit/services/diagnostic"
	"github.com/streamit/streamit/services/storage"
	"github.com/streamit/streamit/transport"
)

type Diagnostic interface {
	Listening(addr string)
	EdgeConnected(edge int32, remote string)
	ThreadStarted(thread int, iteration uint64)
	ThreadStopped(thread int, iteration uint64, err error)
	Error(msg string, err error)
}

type Option func(*Runtime)

// WithDiagService sets the service diagnostic handlers are created from.
// By default the runtime opens its own from the logging config.
func WithDiagService(s *diagnostic.Service) Option {
	return func(r *Runtime) { r.DiagService = s }
}

// WithRegisterer registers runtime, transport and checkpoint metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Runtime) { r.reg = reg }
}

// WithRegistry stores checkpoint start iterations in reg instead of the bolt database.
func WithRegistry(reg checkpoint.Registry) Option {
	return func(r *Runtime) { r.registry = reg }
}

type thread struct {
	id int
	g  *streamit.Graph
}

type Runtime struct {
	DiagService    *diagnostic.Service
	StorageService *storage.Service

	c       Config
	session uuid.UUID
	diag    Diagnostic
	reg     prometheus.Registerer

	registry checkpoint.Registry
	store    *checkpoint.Store

	collector  *transport.Collector
	iterations *prometheus.CounterVec

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	listener *transport.Listener

	mu      sync.Mutex
	threads map[int]*thread
	conns   map[int32]chan *transport.NetSocket
	opened  bool
	ownDiag bool
}

func NewRuntime(c Config, opts ...Option) (*Runtime, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid cluster config")
	}
	r := &Runtime{
		c:         c,
		session:   uuid.New(),
		collector: transport.NewCollector(),
		threads:   make(map[int]*thread),
		conns:     make(map[int32]chan *transport.NetSocket),
	}
	for _, o := range opts {
		o(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.iterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "streamit",
		Subsystem:   "cluster",
		Name:        "iterations_total",
		Help:        "Steady state iterations completed per thread.",
		ConstLabels: prometheus.Labels{"session": r.session.String()},
	}, []string{"thread"})
	if r.reg != nil {
		if err := r.reg.Register(r.iterations); err != nil {
			return nil, errors.Wrap(err, "register iteration counter")
		}
		if err := r.reg.Register(r.collector); err != nil {
			return nil, errors.Wrap(err, "register transport collector")
		}
	}
	return r, nil
}

// Session identifies this run of the runtime in logs and metrics.
func (r *Runtime) Session() uuid.UUID { return r.session }

// Open starts logging, the checkpoint store and, when the cluster spans machines, the edge listener.
func (r *Runtime) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return errors.New("runtime already open")
	}
	if r.DiagService == nil {
		r.DiagService = diagnostic.NewService(r.c.Logging, os.Stdout, os.Stderr)
		if err := r.DiagService.Open(); err != nil {
			return errors.Wrap(err, "open diagnostics")
		}
		r.ownDiag = true
	}
	r.diag = r.DiagService.NewClusterHandler(r.c.LocalMachine)

	if r.c.Checkpoint.Enabled {
		if r.registry == nil {
			r.StorageService = storage.NewService(r.c.Storage, r.DiagService.NewStorageHandler())
			if err := r.StorageService.Open(); err != nil {
				return errors.Wrap(err, "open storage")
			}
			r.registry = checkpoint.NewStoreRegistry(r.StorageService.Store("checkpoint"))
		}
		opts := []checkpoint.Option{checkpoint.WithDiagnostic(r.DiagService.NewCheckpointHandler())}
		if r.reg != nil {
			opts = append(opts, checkpoint.WithRegisterer(r.reg))
		}
		store, err := checkpoint.NewStore(r.c.Checkpoint, r.registry, opts...)
		if err != nil {
			return errors.Wrap(err, "open checkpoint store")
		}
		r.store = store
	}

	if len(r.c.Machines) > 0 {
		addr, _ := r.c.address(r.c.LocalMachine)
		l, err := transport.Listen(addr)
		if err != nil {
			return err
		}
		r.listener = l
		r.diag.Listening(l.Addr().String())
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.accept()
		}()
	}
	r.opened = true
	return nil
}

// Addr returns the address of the edge listener, empty when not listening.
func (r *Runtime) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Checkpoints returns the checkpoint store, nil when checkpointing is disabled.
func (r *Runtime) Checkpoints() *checkpoint.Store { return r.store }

func (r *Runtime) accept() {
	for {
		s, err := r.listener.Accept(r.ctx)
		if err != nil {
			if r.ctx.Err() == nil {
				r.diag.Error("failed to accept edge connection", err)
			}
			return
		}
		var hdr [4]byte
		if err := s.ReadChunk(hdr[:]); err != nil {
			r.diag.Error("failed to read edge handshake", err)
			s.Close()
			continue
		}
		edge := int32(binary.LittleEndian.Uint32(hdr[:]))
		r.diag.EdgeConnected(edge, s.RemoteAddr().String())
		select {
		case r.conn(edge) <- s:
		default:
			r.diag.Error("duplicate connection for edge "+strconv.Itoa(int(edge)), errors.New("edge already connected"))
			s.Close()
		}
	}
}

func (r *Runtime) conn(edge int32) chan *transport.NetSocket {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.conns[edge]
	if !ok {
		ch = make(chan *transport.NetSocket, 1)
		r.conns[edge] = ch
	}
	return ch
}

func (r *Runtime) local(thread int) bool {
	return r.c.machineOf(thread) == r.c.LocalMachine
}

// Edge connects thread from to thread to with an edge of itemSize byte items.
// It returns the producer end when from runs on this machine and the consumer
// end when to does. Both ends share a queue when both threads are local. For a
// remote consumer the producer dials its machine, a local consumer of a remote
// producer waits for the producer's connection.
func (r *Runtime) Edge(ctx context.Context, edge int32, from, to int, itemSize int) (*transport.Producer, *transport.Consumer, error) {
	name := fmt.Sprintf("edge%d:%d->%d", edge, from, to)
	items := r.c.Transport.BufferItems
	switch {
	case r.local(from) && r.local(to):
		q := transport.NewQueue(name, r.c.Transport, transport.WithDiagnostic(r.transportDiag()))
		sock := transport.NewMemSocket(r.ctx, q)
		p, err := transport.NewProducer(name, sock, itemSize, items)
		if err != nil {
			return nil, nil, err
		}
		c, err := transport.NewConsumer(name, sock, itemSize)
		if err != nil {
			return nil, nil, err
		}
		r.collector.AddQueue(q)
		r.collector.AddProducer(p)
		return p, c, nil
	case r.local(from):
		addr, ok := r.c.address(r.c.machineOf(to))
		if !ok {
			return nil, nil, errors.Errorf("%s: no address for thread %d", name, to)
		}
		sock, err := transport.Dial(ctx, addr, r.c.Transport)
		if err != nil {
			return nil, nil, errors.Wrap(err, name)
		}
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(edge))
		if err := sock.WriteChunk(hdr[:]); err != nil {
			sock.Close()
			return nil, nil, errors.Wrapf(err, "%s: handshake", name)
		}
		p, err := transport.NewProducer(name, sock, itemSize, items)
		if err != nil {
			return nil, nil, err
		}
		r.collector.AddProducer(p)
		return p, nil, nil
	case r.local(to):
		if r.listener == nil {
			return nil, nil, errors.Errorf("%s: runtime is not listening", name)
		}
		select {
		case sock := <-r.conn(edge):
			c, err := transport.NewConsumer(name, sock, itemSize)
			return nil, c, err
		case <-ctx.Done():
			return nil, nil, errors.Wrapf(ctx.Err(), "%s: waiting for producer", name)
		}
	default:
		return nil, nil, nil
	}
}

func (r *Runtime) transportDiag() transport.Diagnostic {
	if r.DiagService == nil {
		return nil
	}
	return r.DiagService.NewTransportHandler()
}

// AddThread registers the graph a local thread runs.
func (r *Runtime) AddThread(id int, g *streamit.Graph) error {
	if !r.local(id) {
		return errors.Errorf("thread %d runs on machine %s", id, r.c.machineOf(id))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[id]; ok {
		return errors.Errorf("thread %d already added", id)
	}
	r.threads[id] = &thread{id: id, g: g}
	return nil
}

func (r *Runtime) sortedThreads() []*thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	threads := make([]*thread, 0, len(r.threads))
	for _, t := range r.threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].id < threads[j].id })
	return threads
}

// Run initializes the local threads, restores them from the newest common
// checkpoint and runs iterations more steady state iterations on each.
// The first thread failure cancels the others.
func (r *Runtime) Run(ctx context.Context, iterations int) error {
	if !r.opened {
		return errors.New("runtime is not open")
	}
	threads := r.sortedThreads()
	for _, t := range threads {
		switch t.g.State() {
		case streamit.Uninitialized:
			if err := t.g.Init(); err != nil {
				return errors.Wrapf(err, "init thread %d", t.id)
			}
		case streamit.Failed:
			return errors.Wrapf(t.g.Run(ctx, 0), "init thread %d", t.id)
		}
	}
	if err := r.resume(threads); err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range threads {
		t := t
		eg.Go(func() error {
			r.diag.ThreadStarted(t.id, t.g.Iteration())
			err := r.runThread(ctx, t, iterations)
			r.diag.ThreadStopped(t.id, t.g.Iteration(), err)
			return err
		})
	}
	return eg.Wait()
}

// resume restores every thread at the smallest start iteration recorded for
// any of them, so all threads agree on the data crossing their edges.
// Recorded threads the partition no longer places anywhere are reset.
func (r *Runtime) resume(threads []*thread) error {
	if r.store == nil || len(threads) == 0 {
		return nil
	}
	recorded, err := r.registry.Threads()
	if err != nil {
		return errors.Wrap(err, "recorded threads")
	}
	placed := make(map[int]bool, len(threads)+len(r.c.Partitions))
	for _, p := range r.c.Partitions {
		placed[p.Thread] = true
	}
	for _, t := range threads {
		placed[t.id] = true
	}
	stale := make([]int, 0, len(recorded))
	for id := range recorded {
		if !placed[id] {
			stale = append(stale, id)
		}
	}
	sort.Ints(stale)
	for _, id := range stale {
		if _, err := r.store.Reset(id); err != nil {
			return errors.Wrapf(err, "reset stale thread %d", id)
		}
	}

	var start uint64
	for i, t := range threads {
		iter := recorded[t.id]
		if i == 0 || iter < start {
			start = iter
		}
	}
	if start == 0 {
		return nil
	}
	for _, t := range threads {
		if t.g.Iteration() == start {
			continue
		}
		if err := r.store.Load(t.id, start, t.g); err != nil {
			return errors.Wrapf(err, "resume thread %d", t.id)
		}
	}
	return nil
}

func (r *Runtime) runThread(ctx context.Context, t *thread, iterations int) error {
	counter := r.iterations.WithLabelValues(strconv.Itoa(t.id))
	interval := r.c.Checkpoint.Interval
	for iterations > 0 {
		n := iterations
		if r.store != nil && interval > 0 {
			if next := int(interval - t.g.Iteration()%interval); next < n {
				n = next
			}
		}
		if err := t.g.Run(ctx, n); err != nil {
			return errors.Wrapf(err, "thread %d", t.id)
		}
		counter.Add(float64(n))
		iterations -= n
		if r.store != nil && interval > 0 && t.g.Iteration()%interval == 0 {
			if err := t.g.Flush(ctx); err != nil {
				return errors.Wrapf(err, "thread %d", t.id)
			}
			if err := r.store.Save(t.id, t.g.Iteration(), t.g); err != nil {
				return errors.Wrapf(err, "checkpoint thread %d", t.id)
			}
		}
	}
	return errors.Wrapf(t.g.Flush(ctx), "thread %d", t.id)
}

// Close tears down the thread graphs and stops the listener.
func (r *Runtime) Close() error {
	r.cancel()
	if r.listener != nil {
		r.listener.Close()
	}
	r.wg.Wait()

	var err error
	for _, t := range r.sortedThreads() {
		switch t.g.State() {
		case streamit.Initialized, streamit.Running, streamit.Failed:
		default:
			continue
		}
		if terr := t.g.Teardown(); terr != nil && err == nil {
			err = errors.Wrapf(terr, "teardown thread %d", t.id)
		}
	}
	r.mu.Lock()
	for _, ch := range r.conns {
		select {
		case s := <-ch:
			s.Close()
		default:
		}
	}
	r.mu.Unlock()
	if r.StorageService != nil {
		if serr := r.StorageService.Close(); serr != nil && err == nil {
			err = serr
		}
	}
	if r.ownDiag {
		r.DiagService.Close()
	}
	return err
}
