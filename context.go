package streamit

import (
	"context"

	"github.com/streamit/streamit/tape"
)

// Context is handed to a filter for one firing.
// It gives access to the node's tapes within the node's declared rates.
type Context struct {
	ctx    context.Context
	g      *Graph
	n      *node
	popped int
	pushed int
}

func (c *Context) reset(ctx context.Context, g *Graph, n *node) {
	c.ctx, c.g, c.n = ctx, g, n
	c.popped, c.pushed = 0, 0
}

// Done returns the context the graph is running under, for filters that block.
func (c *Context) Done() context.Context { return c.ctx }

// Name returns the node name.
func (c *Context) Name() string { return c.n.name }

func (c *Context) Rates() Rates { return c.n.rates }

// Iteration returns the steady state iteration being executed.
func (c *Context) Iteration() uint64 { return c.g.iteration }

// Firing returns the number of previous firings of the node.
func (c *Context) Firing() uint64 { return c.n.fired }

func (c *Context) checkPop() {
	if c.popped >= c.n.rates.Pop {
		panic(&RateError{Node: c.n.name, Op: "pop", Declared: c.n.rates.Pop, Used: c.popped + 1})
	}
	c.popped++
}

func (c *Context) checkPush() {
	if c.pushed >= c.n.rates.Push {
		panic(&RateError{Node: c.n.name, Op: "push", Declared: c.n.rates.Push, Used: c.pushed + 1})
	}
	c.pushed++
}

// Peek returns the item depth positions ahead of the next pop.
func (c *Context) Peek(depth int) []byte {
	if depth >= c.n.peek()-c.popped {
		panic(&RateError{Node: c.n.name, Op: "peek", Declared: c.n.peek(), Used: c.popped + depth + 1})
	}
	return c.n.in.Peek(depth)
}

// Pop consumes the next item. The slice is valid until the producer pushes again.
func (c *Context) Pop() []byte {
	c.checkPop()
	return c.n.in.Pop()
}

func (c *Context) PopInto(dst []byte) {
	c.checkPop()
	c.n.in.PopInto(dst)
}

func (c *Context) Push(item []byte) {
	c.checkPush()
	c.n.out.Push(item)
}

// PushSlot pushes an item whose storage is filled in place before the firing returns.
func (c *Context) PushSlot() []byte {
	c.checkPush()
	slot := c.n.out.WriteSlot()
	c.n.out.AdvanceWrite()
	return slot
}

func (c *Context) PopInt32() int32 {
	c.checkPop()
	return tape.PopInt32(c.n.in)
}

func (c *Context) PeekInt32(depth int) int32 {
	c.Peek(depth)
	return tape.PeekInt32(c.n.in, depth)
}

func (c *Context) PushInt32(v int32) {
	c.checkPush()
	tape.PushInt32(c.n.out, v)
}

func (c *Context) PopFloat32() float32 {
	c.checkPop()
	return tape.PopFloat32(c.n.in)
}

func (c *Context) PeekFloat32(depth int) float32 {
	c.Peek(depth)
	return tape.PeekFloat32(c.n.in, depth)
}

func (c *Context) PushFloat32(v float32) {
	c.checkPush()
	tape.PushFloat32(c.n.out, v)
}

func (c *Context) PopFloat64() float64 {
	c.checkPop()
	return tape.PopFloat64(c.n.in)
}

func (c *Context) PeekFloat64(depth int) float64 {
	c.Peek(depth)
	return tape.PeekFloat64(c.n.in, depth)
}

func (c *Context) PushFloat64(v float64) {
	c.checkPush()
	tape.PushFloat64(c.n.out, v)
}
