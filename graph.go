package streamit

import (
	"context"

	"github.com/pkg/errors"

	"github.com/streamit/streamit/tape"
)

// DefaultItemSize is the item size of tapes that are not connected explicitly.
const DefaultItemSize = 4

type State int

const (
	Uninitialized State = iota
	Initialized
	Running
	TornDown
	// Failed graphs returned an error from Init and cannot be initialized again.
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case TornDown:
		return "torn down"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Diagnostic interface {
	Initialized(graph string, nodes, tapes int)
	Failed(graph, node string, err error)
	TornDown(graph string, iteration uint64)
}

type noopDiag struct{}

func (noopDiag) Initialized(string, int, int) {}
func (noopDiag) Failed(string, string, error) {}
func (noopDiag) TornDown(string, uint64)      {}

// DelayFunc writes the i-th seed item of a feedback loop delay into item.
type DelayFunc func(i int, item []byte)

type edgeKey struct {
	from, to NodeID
}

type edgeSpec struct {
	itemSize int
	length   int
	used     bool
}

type GraphOption func(*Graph)

// WithItemSize sets the item size of tapes not connected explicitly.
func WithItemSize(n int) GraphOption {
	return func(g *Graph) { g.itemSize = n }
}

func WithDiagnostic(d Diagnostic) GraphOption {
	return func(g *Graph) { g.diag = d }
}

// Graph owns the nodes and tapes of a stream program.
type Graph struct {
	name     string
	itemSize int
	diag     Diagnostic

	nodes  []*node
	byName map[string]NodeID
	root   NodeID
	state  State

	edges  map[edgeKey]*edgeSpec
	input  *tape.Tape
	output *tape.Tape
	// internal tapes in creation order
	tapes []*tape.Tape

	sources []*node
	portals []*Portal

	iteration uint64
	err       error
}

func NewGraph(name string, opts ...GraphOption) *Graph {
	g := &Graph{
		name:     name,
		itemSize: DefaultItemSize,
		diag:     noopDiag{},
		byName:   make(map[string]NodeID),
		root:     NoNode,
		edges:    make(map[edgeKey]*edgeSpec),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Graph) Name() string { return g.name }

func (g *Graph) State() State { return g.state }

// Iteration returns the number of completed steady state iterations.
func (g *Graph) Iteration() uint64 { return g.iteration }

// SetIteration fast forwards the iteration counter of a resumed graph.
func (g *Graph) SetIteration(iter uint64) error {
	if g.state != Initialized {
		return g.stateError("set iteration")
	}
	g.iteration = iter
	return nil
}

func (g *Graph) stateError(op string) error {
	return errors.Wrapf(ErrInvalidState, "graph %s: cannot %s when %v", g.name, op, g.state)
}

func (g *Graph) lookup(id NodeID) (*node, error) {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil, errors.Errorf("graph %s: unknown node %d", g.name, id)
	}
	return g.nodes[id], nil
}

func (g *Graph) add(name string, rates Rates, data payload) (NodeID, error) {
	if g.state != Uninitialized {
		return NoNode, g.stateError("add node " + name)
	}
	if name == "" {
		return NoNode, configErrorf("", "node name must not be empty")
	}
	if _, ok := g.byName[name]; ok {
		return NoNode, configErrorf(name, "duplicate node name")
	}
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &node{
		id:     id,
		name:   name,
		parent: NoNode,
		rates:  rates,
		data:   data,
	})
	g.byName[name] = id
	return id, nil
}

// NewFilter adds a leaf node running f with rates r.
func (g *Graph) NewFilter(name string, f Filter, r Rates) (NodeID, error) {
	if f == nil {
		return NoNode, configErrorf(name, "nil filter")
	}
	if r.Peek < 0 || r.Pop < 0 || r.Push < 0 {
		return NoNode, configErrorf(name, "negative rates %+v", r)
	}
	if r.Peek != 0 && r.Peek < r.Pop {
		return NoNode, configErrorf(name, "peek rate %d is less than pop rate %d", r.Peek, r.Pop)
	}
	if r.Peek > 0 && r.Pop == 0 {
		return NoNode, configErrorf(name, "peeks %d items but pops none", r.Peek)
	}
	return g.add(name, r, &filterData{f: f})
}

func (g *Graph) NewPipeline(name string) (NodeID, error) {
	return g.add(name, Rates{}, &pipelineData{})
}

// NewSplitJoin adds a splitjoin, its splitter and joiner are set with SetSplitter and SetJoiner.
func (g *Graph) NewSplitJoin(name string) (NodeID, error) {
	return g.add(name, Rates{}, &splitJoinData{})
}

// NewFeedbackLoop adds a feedback loop. The first child added is the body, the second the loop stream.
// Joiner input 0 is the external input and input 1 the delay tape fed by the loop stream.
// Splitter output 0 goes downstream and output 1 into the loop stream.
func (g *Graph) NewFeedbackLoop(name string) (NodeID, error) {
	return g.add(name, Rates{}, &feedbackData{})
}

// Add appends child to the composite parent. Registration order is execution and routing order.
func (g *Graph) Add(parent, child NodeID) error {
	if g.state != Uninitialized {
		return g.stateError("add child")
	}
	p, err := g.lookup(parent)
	if err != nil {
		return err
	}
	c, err := g.lookup(child)
	if err != nil {
		return err
	}
	if c.parent != NoNode {
		return configErrorf(c.name, "already a child of %s", g.nodes[c.parent].name)
	}
	if child == g.root {
		return configErrorf(c.name, "the root cannot be a child")
	}
	for a := parent; a != NoNode; a = g.nodes[a].parent {
		if a == child {
			return configErrorf(c.name, "adding to %s creates a cycle", p.name)
		}
	}
	switch d := p.data.(type) {
	case *pipelineData:
		d.children = append(d.children, child)
	case *splitJoinData:
		d.children = append(d.children, child)
	case *feedbackData:
		if len(d.children) == 2 {
			return configErrorf(p.name, "feedback loop already has a body and a loop stream")
		}
		d.children = append(d.children, child)
	default:
		return errors.Wrapf(ErrWrongKind, "node %s is a %v, not a composite", p.name, p.kind())
	}
	c.parent = parent
	return nil
}

func (g *Graph) setFanout(id NodeID, splitter bool, p Policy, fan int, ratios []int) error {
	if g.state != Uninitialized {
		return g.stateError("set splitter or joiner")
	}
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	if k := n.kind(); k != SplitJoinKind && k != FeedbackLoopKind {
		return errors.Wrapf(ErrWrongKind, "node %s is a %v, splitters and joiners belong to splitjoins and feedback loops", n.name, k)
	}
	f, err := newFanout(n.name, splitter, p, fan, ratios)
	if err != nil {
		return err
	}
	switch d := n.data.(type) {
	case *splitJoinData:
		if splitter {
			d.split = f
		} else {
			d.join = f
		}
	case *feedbackData:
		if fan != 2 {
			return configErrorf(n.name, "feedback loop fan must be 2, got %d", fan)
		}
		if splitter {
			d.split = f
		} else {
			d.join = f
		}
	}
	return nil
}

// SetSplitter sets how a splitjoin or feedback loop distributes its input.
// Ratios are per child item counts: none or one for RoundRobin and Duplicate, fan for WeightedRoundRobin.
func (g *Graph) SetSplitter(id NodeID, p Policy, fan int, ratios ...int) error {
	return g.setFanout(id, true, p, fan, ratios)
}

// SetJoiner sets how a splitjoin or feedback loop merges its children.
func (g *Graph) SetJoiner(id NodeID, p Policy, fan int, ratios ...int) error {
	return g.setFanout(id, false, p, fan, ratios)
}

// SetDelay seeds the delay tape of a feedback loop with n items written by seed.
// A nil seed leaves the items zeroed.
func (g *Graph) SetDelay(loop NodeID, n int, seed DelayFunc) error {
	if g.state != Uninitialized {
		return g.stateError("set delay")
	}
	l, err := g.lookup(loop)
	if err != nil {
		return err
	}
	d, ok := l.data.(*feedbackData)
	if !ok {
		return errors.Wrapf(ErrWrongKind, "node %s is a %v, not a feedback loop", l.name, l.kind())
	}
	if n < 0 {
		return configErrorf(l.name, "negative delay %d", n)
	}
	d.delay, d.seed = n, seed
	return nil
}

// Connect fixes the item size and minimum length of the tape from one node to the next.
// Edges of a splitjoin or feedback loop with its children name the composite as the other end.
// A zero item size keeps the default. Tapes that are not connected explicitly get the default item size and the minimum length.
func (g *Graph) Connect(from, to NodeID, itemSize, length int) error {
	if g.state != Uninitialized {
		return g.stateError("connect")
	}
	if _, err := g.lookup(from); err != nil {
		return err
	}
	if _, err := g.lookup(to); err != nil {
		return err
	}
	if itemSize < 0 || length < 0 {
		return configErrorf(g.nodes[from].name, "invalid tape to %s: item size %d, length %d", g.nodes[to].name, itemSize, length)
	}
	g.edges[edgeKey{from, to}] = &edgeSpec{itemSize: itemSize, length: length}
	return nil
}

// SetRoot sets the top level node. Without it the only node without a parent is the root.
func (g *Graph) SetRoot(id NodeID) error {
	if g.state != Uninitialized {
		return g.stateError("set root")
	}
	n, err := g.lookup(id)
	if err != nil {
		return err
	}
	if n.parent != NoNode {
		return configErrorf(n.name, "a child of %s cannot be the root", g.nodes[n.parent].name)
	}
	g.root = id
	return nil
}

// AttachInput feeds the root from t, which the caller fills between runs.
func (g *Graph) AttachInput(t *tape.Tape) error {
	if g.state != Uninitialized {
		return g.stateError("attach input")
	}
	g.input = t
	return nil
}

// AttachOutput makes the root push onto t, which the caller drains between runs.
func (g *Graph) AttachOutput(t *tape.Tape) error {
	if g.state != Uninitialized {
		return g.stateError("attach output")
	}
	g.output = t
	return nil
}

// Lookup returns the node with the given name.
func (g *Graph) Lookup(name string) (NodeID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

func (g *Graph) Root() NodeID { return g.root }

func (g *Graph) NodeName(id NodeID) (string, error) {
	n, err := g.lookup(id)
	if err != nil {
		return "", err
	}
	return n.name, nil
}

func (g *Graph) Kind(id NodeID) (Kind, error) {
	n, err := g.lookup(id)
	if err != nil {
		return 0, err
	}
	return n.kind(), nil
}

func (g *Graph) Parent(id NodeID) (NodeID, error) {
	n, err := g.lookup(id)
	if err != nil {
		return NoNode, err
	}
	return n.parent, nil
}

// Rates returns the declared rates of a filter, or the effective rates of an initialized composite.
func (g *Graph) Rates(id NodeID) (Rates, error) {
	n, err := g.lookup(id)
	if err != nil {
		return Rates{}, err
	}
	return n.rates, nil
}

// Firings returns the number of times a node has fired.
func (g *Graph) Firings(id NodeID) (uint64, error) {
	n, err := g.lookup(id)
	if err != nil {
		return 0, err
	}
	if n.kind() == FilterKind {
		return n.fired, nil
	}
	split, join := n.fanouts()
	if split != nil {
		return split.fired, nil
	}
	if join != nil {
		return join.fired, nil
	}
	return 0, nil
}

// FilterOf returns the work of a filter node.
func (g *Graph) FilterOf(id NodeID) (Filter, error) {
	n, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	d, ok := n.data.(*filterData)
	if !ok {
		return nil, errors.Wrapf(ErrWrongKind, "node %s is a %v, not a filter", n.name, n.kind())
	}
	return d.f, nil
}

// Children returns the children of a composite in registration order.
func (g *Graph) Children(id NodeID) ([]NodeID, error) {
	n, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	if n.kind() == FilterKind {
		return nil, errors.Wrapf(ErrWrongKind, "node %s is a filter, not a composite", n.name)
	}
	return append([]NodeID(nil), n.children()...), nil
}

func (g *Graph) fanout(id NodeID, splitter bool) (Fanout, error) {
	n, err := g.lookup(id)
	if err != nil {
		return Fanout{}, err
	}
	if k := n.kind(); k != SplitJoinKind && k != FeedbackLoopKind {
		return Fanout{}, errors.Wrapf(ErrWrongKind, "node %s is a %v without splitter or joiner", n.name, k)
	}
	split, join := n.fanouts()
	f := join
	if splitter {
		f = split
	}
	if f == nil {
		return Fanout{}, configErrorf(n.name, "splitter or joiner not set")
	}
	return f.describe(), nil
}

func (g *Graph) Splitter(id NodeID) (Fanout, error) { return g.fanout(id, true) }

func (g *Graph) Joiner(id NodeID) (Fanout, error) { return g.fanout(id, false) }

// Init validates rates and topology, allocates and seeds tapes, and calls filter Init hooks.
// A failed Init leaves the graph Failed, Run returns the same error and only Teardown is allowed.
func (g *Graph) Init() error {
	if g.state != Uninitialized {
		return g.stateError("init")
	}
	if err := g.init(); err != nil {
		g.state = Failed
		g.err = err
		return err
	}
	g.state = Initialized
	g.diag.Initialized(g.name, len(g.nodes), len(g.tapes))
	return nil
}

func (g *Graph) init() error {
	if len(g.nodes) == 0 {
		return configErrorf("", "graph %s has no nodes", g.name)
	}
	if g.root == NoNode {
		for _, n := range g.nodes {
			if n.parent != NoNode {
				continue
			}
			if g.root != NoNode {
				return configErrorf(n.name, "more than one node without a parent, set the root")
			}
			g.root = n.id
		}
	}
	for _, n := range g.nodes {
		if n.id != g.root && n.parent == NoNode {
			return configErrorf(n.name, "not part of the graph rooted at %s", g.nodes[g.root].name)
		}
	}
	if err := g.resolve(g.nodes[g.root]); err != nil {
		return err
	}
	if err := g.wire(g.nodes[g.root], g.input, g.output); err != nil {
		return err
	}
	for k, e := range g.edges {
		if !e.used {
			return configErrorf(g.nodes[k.from].name, "connected to %s which it has no tape to", g.nodes[k.to].name)
		}
	}
	for _, n := range g.nodes {
		if n.isSource() {
			g.sources = append(g.sources, n)
		}
		if d, ok := n.data.(*feedbackData); ok {
			g.seed(d)
		}
	}
	for _, n := range g.nodes {
		if d, ok := n.data.(*filterData); ok {
			if i, ok := d.f.(Initializer); ok {
				if err := i.Init(); err != nil {
					return errors.Wrapf(err, "init %s", n.name)
				}
				d.initialized = true
			}
		}
	}
	return nil
}

func rateMismatch(up *node, down *node, push, pop int) error {
	return configErrorf(down.name, "rate mismatch: %s pushes %d, %s pops %d", up.name, push, down.name, pop)
}

// resolve validates the subtree of n and computes the effective rates of composites.
func (g *Graph) resolve(n *node) error {
	for _, c := range n.children() {
		if err := g.resolve(g.nodes[c]); err != nil {
			return err
		}
	}
	switch d := n.data.(type) {
	case *pipelineData:
		if len(d.children) == 0 {
			return configErrorf(n.name, "empty pipeline")
		}
		for k := 1; k < len(d.children); k++ {
			up, down := g.nodes[d.children[k-1]], g.nodes[d.children[k]]
			if up.rates.Push != down.rates.Pop {
				return rateMismatch(up, down, up.rates.Push, down.rates.Pop)
			}
		}
		first, last := g.nodes[d.children[0]], g.nodes[d.children[len(d.children)-1]]
		n.rates = Rates{Peek: first.peek(), Pop: first.rates.Pop, Push: last.rates.Push}
	case *splitJoinData:
		if d.split == nil || d.join == nil {
			return configErrorf(n.name, "splitjoin needs a splitter and a joiner")
		}
		if len(d.children) == 0 {
			return configErrorf(n.name, "splitjoin has no children")
		}
		if len(d.split.ratio) != len(d.children) || len(d.join.ratio) != len(d.children) {
			return configErrorf(n.name, "splitter fan %d and joiner fan %d must equal the %d children",
				len(d.split.ratio), len(d.join.ratio), len(d.children))
		}
		for i, id := range d.children {
			c := g.nodes[id]
			if out := d.split.child(i); out != c.rates.Pop {
				return configErrorf(c.name, "rate mismatch: splitter of %s sends %d, %s pops %d", n.name, out, c.name, c.rates.Pop)
			}
			if in := d.join.child(i); in != c.rates.Push {
				return configErrorf(c.name, "rate mismatch: %s pushes %d, joiner of %s takes %d", c.name, c.rates.Push, n.name, in)
			}
		}
		n.rates = Rates{Peek: d.split.total(), Pop: d.split.total(), Push: d.join.total()}
	case *feedbackData:
		if d.split == nil || d.join == nil {
			return configErrorf(n.name, "feedback loop needs a splitter and a joiner")
		}
		if len(d.children) != 2 {
			return configErrorf(n.name, "feedback loop needs a body and a loop stream, has %d children", len(d.children))
		}
		body, loop := g.nodes[d.children[0]], g.nodes[d.children[1]]
		if d.join.total() != body.rates.Pop {
			return configErrorf(body.name, "rate mismatch: joiner of %s sends %d, %s pops %d", n.name, d.join.total(), body.name, body.rates.Pop)
		}
		if body.rates.Push != d.split.total() {
			return configErrorf(body.name, "rate mismatch: %s pushes %d, splitter of %s takes %d", body.name, body.rates.Push, n.name, d.split.total())
		}
		if d.split.child(1) != loop.rates.Pop {
			return configErrorf(loop.name, "rate mismatch: splitter of %s sends %d, %s pops %d", n.name, d.split.child(1), loop.name, loop.rates.Pop)
		}
		if loop.rates.Push != d.join.child(1) {
			return configErrorf(loop.name, "rate mismatch: %s pushes %d, joiner of %s takes %d", loop.name, loop.rates.Push, n.name, d.join.child(1))
		}
		if d.delay < d.join.child(1) {
			return configErrorf(n.name, "delay %d is less than the %d items the joiner takes from the loop", d.delay, d.join.child(1))
		}
		n.rates = Rates{Peek: d.join.child(0), Pop: d.join.child(0), Push: d.split.child(0)}
	}
	return nil
}

// newTape creates the internal tape from one node to the next, sized for the producer's push and the consumer's peek.
func (g *Graph) newTape(from, to NodeID, push, peek, extra, itemSize int) *tape.Tape {
	length := push + peek + extra
	if e, ok := g.edges[edgeKey{from, to}]; ok {
		e.used = true
		if e.itemSize > 0 {
			itemSize = e.itemSize
		}
		if e.length > length {
			length = e.length
		}
	}
	t := tape.New(itemSize, length)
	g.tapes = append(g.tapes, t)
	return t
}

func sameItemSize(n *node, side string, shared *tape.Tape, tapes []*tape.Tape) error {
	for i, t := range tapes {
		if t.ItemSize() != shared.ItemSize() {
			return configErrorf(n.name, "%s tape %d has item size %d, expected %d", side, i, t.ItemSize(), shared.ItemSize())
		}
	}
	return nil
}

// wire attaches in and out to n and creates the tapes inside it.
func (g *Graph) wire(n *node, in, out *tape.Tape) error {
	n.in, n.out = in, out
	switch d := n.data.(type) {
	case *filterData:
		if n.peek() > 0 && in == nil {
			return configErrorf(n.name, "pops %d items but has no input tape", n.rates.Pop)
		}
		if n.rates.Push > 0 && out == nil {
			return configErrorf(n.name, "pushes %d items but has no output tape", n.rates.Push)
		}
	case *pipelineData:
		prev := in
		for k, id := range d.children {
			c := g.nodes[id]
			next := out
			if k < len(d.children)-1 {
				down := g.nodes[d.children[k+1]]
				next = g.newTape(c.id, down.id, c.rates.Push, down.peek(), 0, g.itemSize)
			}
			if err := g.wire(c, prev, next); err != nil {
				return err
			}
			prev = next
		}
	case *splitJoinData:
		if in == nil || out == nil {
			return configErrorf(n.name, "splitjoin needs an input and an output tape")
		}
		d.split.tapes = make([]*tape.Tape, len(d.children))
		d.join.tapes = make([]*tape.Tape, len(d.children))
		for i, id := range d.children {
			c := g.nodes[id]
			d.split.tapes[i] = g.newTape(n.id, c.id, d.split.child(i), c.peek(), 0, in.ItemSize())
			d.join.tapes[i] = g.newTape(c.id, n.id, c.rates.Push, d.join.child(i), 0, out.ItemSize())
			if err := g.wire(c, d.split.tapes[i], d.join.tapes[i]); err != nil {
				return err
			}
		}
		if err := sameItemSize(n, "splitter", in, d.split.tapes); err != nil {
			return err
		}
		if err := sameItemSize(n, "joiner", out, d.join.tapes); err != nil {
			return err
		}
	case *feedbackData:
		if in == nil || out == nil {
			return configErrorf(n.name, "feedback loop needs an input and an output tape")
		}
		body, loop := g.nodes[d.children[0]], g.nodes[d.children[1]]
		bodyIn := g.newTape(n.id, body.id, d.join.total(), body.peek(), 0, in.ItemSize())
		bodyOut := g.newTape(body.id, n.id, body.rates.Push, d.split.total(), 0, out.ItemSize())
		loopIn := g.newTape(n.id, loop.id, d.split.child(1), loop.peek(), 0, out.ItemSize())
		delay := g.newTape(loop.id, n.id, loop.rates.Push, d.join.child(1), d.delay, in.ItemSize())
		d.join.tapes = []*tape.Tape{in, delay}
		d.split.tapes = []*tape.Tape{out, loopIn}
		if err := g.wire(body, bodyIn, bodyOut); err != nil {
			return err
		}
		if err := g.wire(loop, loopIn, delay); err != nil {
			return err
		}
		if err := sameItemSize(n, "joiner", bodyIn, d.join.tapes); err != nil {
			return err
		}
		if err := sameItemSize(n, "splitter", bodyOut, d.split.tapes); err != nil {
			return err
		}
	}
	return nil
}

// seed fills the delay tape of a feedback loop.
func (g *Graph) seed(d *feedbackData) {
	t := d.join.tapes[1]
	for i := 0; i < d.delay; i++ {
		slot := t.WriteSlot()
		for j := range slot {
			slot[j] = 0
		}
		if d.seed != nil {
			d.seed(i, slot)
		}
		t.AdvanceWrite()
	}
}

// Flush pushes out items buffered by filters, such as transport senders.
func (g *Graph) Flush(ctx context.Context) error {
	if g.state != Initialized && g.state != Running {
		return g.stateError("flush")
	}
	for _, n := range g.nodes {
		if d, ok := n.data.(*filterData); ok {
			if f, ok := d.f.(Flusher); ok {
				if err := f.Flush(ctx); err != nil {
					return errors.Wrapf(err, "flush %s", n.name)
				}
			}
		}
	}
	return nil
}

// Teardown calls filter teardown hooks in reverse order of creation. The graph cannot be used afterwards.
// After a failed Init only filters whose Init hook succeeded are torn down.
func (g *Graph) Teardown() error {
	if g.state != Initialized && g.state != Running && g.state != Failed {
		return g.stateError("teardown")
	}
	failed := g.state == Failed
	var err error
	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		if d, ok := n.data.(*filterData); ok {
			if _, ok := d.f.(Initializer); ok && failed && !d.initialized {
				continue
			}
			if t, ok := d.f.(Teardowner); ok {
				if terr := t.Teardown(); terr != nil && err == nil {
					err = errors.Wrapf(terr, "teardown %s", n.name)
				}
			}
		}
	}
	g.state = TornDown
	g.diag.TornDown(g.name, g.iteration)
	return err
}
