package streamit

import (
	"context"

	"github.com/streamit/streamit/message"
	"github.com/streamit/streamit/tape"
)

// NodeID addresses a node in its Graph.
type NodeID int

// NoNode is the parent of the root and of nodes not yet added to a composite.
const NoNode NodeID = -1

type Kind int

const (
	FilterKind Kind = iota
	PipelineKind
	SplitJoinKind
	FeedbackLoopKind
)

func (k Kind) String() string {
	switch k {
	case FilterKind:
		return "filter"
	case PipelineKind:
		return "pipeline"
	case SplitJoinKind:
		return "splitjoin"
	case FeedbackLoopKind:
		return "feedbackloop"
	default:
		return "unknown"
	}
}

// Rates are the number of items a node inspects, consumes and produces per firing.
// Peek is at least Pop; a zero Peek means Peek equals Pop.
type Rates struct {
	Peek int
	Pop  int
	Push int
}

// Filter is the work of a leaf node.
// Work must pop and push exactly the declared rates of the node.
type Filter interface {
	Work(*Context) error
}

// Initializer is implemented by filters that need setup once the graph is wired.
type Initializer interface {
	Init() error
}

// Teardowner is implemented by filters that hold resources.
type Teardowner interface {
	Teardown() error
}

// Flusher is implemented by filters that buffer output outside the graph.
type Flusher interface {
	Flush(ctx context.Context) error
}

// payload is the kind specific part of a node.
type payload interface {
	kind() Kind
}

type filterData struct {
	f Filter
	// initialized is set once the Init hook of f returned without error.
	initialized bool
}

type pipelineData struct {
	children []NodeID
}

type splitJoinData struct {
	children []NodeID
	split    *fanout
	join     *fanout
}

// feedbackData children are the body followed by the loop stream.
type feedbackData struct {
	children []NodeID
	split    *fanout
	join     *fanout
	delay    int
	seed     DelayFunc
}

func (filterData) kind() Kind    { return FilterKind }
func (pipelineData) kind() Kind  { return PipelineKind }
func (splitJoinData) kind() Kind { return SplitJoinKind }
func (feedbackData) kind() Kind  { return FeedbackLoopKind }

type node struct {
	id     NodeID
	name   string
	parent NodeID
	rates  Rates

	in, out *tape.Tape
	data    payload

	// number of completed firings
	fired uint64
	// portal registrations targeting this node
	receivers []*registration
}

func (n *node) kind() Kind { return n.data.kind() }

func (n *node) peek() int {
	if n.rates.Peek > n.rates.Pop {
		return n.rates.Peek
	}
	return n.rates.Pop
}

func (n *node) isSource() bool {
	return n.kind() == FilterKind && n.peek() == 0
}

func (n *node) children() []NodeID {
	switch d := n.data.(type) {
	case *pipelineData:
		return d.children
	case *splitJoinData:
		return d.children
	case *feedbackData:
		return d.children
	default:
		return nil
	}
}

func (n *node) fanouts() (split, join *fanout) {
	switch d := n.data.(type) {
	case *splitJoinData:
		return d.split, d.join
	case *feedbackData:
		return d.split, d.join
	default:
		return nil, nil
	}
}

func (n *node) pendingMessages() int {
	c := 0
	for _, r := range n.receivers {
		c += r.pending.Len()
	}
	return c
}

// dispatch delivers every message due at the next firing.
func (n *node) dispatch() error {
	for _, r := range n.receivers {
		for _, m := range r.pending.Due(message.Firing(n.fired)) {
			if err := r.deliver(m); err != nil {
				return err
			}
		}
	}
	return nil
}
