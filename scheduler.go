package streamit

import (
	"context"
	"fmt"
	"runtime"

	"github.com/pkg/errors"

	"github.com/streamit/streamit/tape"
)

// Run executes n steady state iterations.
// Any error leaves the graph failed and every later Run returns the same error.
func (g *Graph) Run(ctx context.Context, n int) error {
	if g.err != nil {
		return g.err
	}
	if g.state != Initialized && g.state != Running {
		return g.stateError("run")
	}
	g.state = Running
	var c Context
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.iterate(ctx, &c); err != nil {
			g.err = err
			return err
		}
		g.iteration++
	}
	return nil
}

func (g *Graph) iterate(ctx context.Context, c *Context) error {
	for _, s := range g.sources {
		if !g.canFire(s) {
			return errors.Wrapf(ErrStalled, "source %s has %d free output slots for %d items", s.name, s.out.Free(), s.rates.Push)
		}
		if err := g.fire(ctx, c, s); err != nil {
			return err
		}
	}
	_, err := g.step(ctx, c, g.nodes[g.root])
	return err
}

func (g *Graph) canFire(n *node) bool {
	if p := n.peek(); p > 0 && n.in.Len() < p {
		return false
	}
	if n.rates.Push > 0 && n.out.Free() < n.rates.Push {
		return false
	}
	return true
}

// fire runs one firing of a filter, converting panics of the work function into errors.
func (g *Graph) fire(ctx context.Context, c *Context, n *node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *tape.Error:
				err = e
			case *RateError:
				err = e
			default:
				trace := make([]byte, 512)
				l := runtime.Stack(trace, false)
				err = fmt.Errorf("%s: Trace:%s", r, string(trace[:l]))
			}
		}
		if err != nil {
			g.diag.Failed(g.name, n.name, err)
			err = errors.Wrap(err, n.name)
		}
	}()
	if err := n.dispatch(); err != nil {
		return err
	}
	c.reset(ctx, g, n)
	if err := n.data.(*filterData).f.Work(c); err != nil {
		return err
	}
	if c.popped != n.rates.Pop {
		return &RateError{Node: n.name, Op: "pop", Declared: n.rates.Pop, Used: c.popped}
	}
	if c.pushed != n.rates.Push {
		return &RateError{Node: n.name, Op: "push", Declared: n.rates.Push, Used: c.pushed}
	}
	n.fired++
	return nil
}

// step fires everything under n that can fire until nothing can, it reports whether anything fired.
func (g *Graph) step(ctx context.Context, c *Context, n *node) (bool, error) {
	switch d := n.data.(type) {
	case *filterData:
		if n.isSource() {
			return false, nil
		}
		progress := false
		for g.canFire(n) {
			if err := g.fire(ctx, c, n); err != nil {
				return progress, err
			}
			progress = true
		}
		return progress, nil
	case *pipelineData:
		return g.fixpoint(func() (bool, error) {
			return g.stepAll(ctx, c, d.children)
		})
	case *splitJoinData:
		return g.fixpoint(func() (bool, error) {
			progress := false
			for d.split.canSplit(n.in) {
				d.split.split(n.in)
				progress = true
			}
			p, err := g.stepAll(ctx, c, d.children)
			if err != nil {
				return false, err
			}
			for d.join.canJoin(n.out) {
				d.join.join(n.out)
				p = true
			}
			return progress || p, nil
		})
	case *feedbackData:
		body, loop := g.nodes[d.children[0]], g.nodes[d.children[1]]
		return g.fixpoint(func() (bool, error) {
			progress := false
			for d.join.canJoin(body.in) {
				d.join.join(body.in)
				progress = true
			}
			p, err := g.step(ctx, c, body)
			if err != nil {
				return false, err
			}
			for d.split.canSplit(body.out) {
				d.split.split(body.out)
				p = true
			}
			q, err := g.step(ctx, c, loop)
			if err != nil {
				return false, err
			}
			return progress || p || q, nil
		})
	}
	return false, nil
}

func (g *Graph) stepAll(ctx context.Context, c *Context, children []NodeID) (bool, error) {
	progress := false
	for _, id := range children {
		p, err := g.step(ctx, c, g.nodes[id])
		if err != nil {
			return false, err
		}
		progress = progress || p
	}
	return progress, nil
}

func (g *Graph) fixpoint(f func() (bool, error)) (bool, error) {
	fired := false
	for {
		p, err := f()
		if err != nil || !p {
			return fired, err
		}
		fired = true
	}
}
