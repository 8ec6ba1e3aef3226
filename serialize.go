package streamit

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/streamit/streamit/checkpoint"
	"github.com/streamit/streamit/message"
)

var _ checkpoint.Serializable = (*Graph)(nil)

// WriteObject writes the iteration, node firing counts, filter state,
// internal tape contents and pending portal messages of the graph.
func (g *Graph) WriteObject(b *checkpoint.Buffer) error {
	if g.state != Initialized && g.state != Running {
		return g.stateError("checkpoint")
	}
	b.WriteUint64(g.iteration)

	b.WriteInt(int32(len(g.nodes)))
	for _, n := range g.nodes {
		b.WriteUint64(n.fired)
		split, join := n.fanouts()
		for _, f := range []*fanout{split, join} {
			if f != nil {
				b.WriteUint64(f.fired)
			}
		}
		d, ok := n.data.(*filterData)
		if !ok {
			continue
		}
		s, ok := d.f.(checkpoint.Serializable)
		if !ok {
			b.WriteBytes(nil)
			continue
		}
		var state bytes.Buffer
		if err := s.WriteObject(checkpoint.NewBuffer(&state)); err != nil {
			return errors.Wrapf(err, "checkpoint %s", n.name)
		}
		b.WriteBytes(state.Bytes())
	}

	b.WriteInt(int32(len(g.tapes)))
	for _, t := range g.tapes {
		b.WriteBytes(t.Snapshot())
	}

	b.WriteInt(int32(len(g.portals)))
	for _, p := range g.portals {
		b.WriteInt(int32(len(p.receivers)))
		for _, r := range p.receivers {
			b.WriteInt(int32(r.pending.Len()))
			r.pending.Do(func(m *message.Message) {
				b.WriteInt(m.MethodID)
				b.WriteInt(m.ExecuteAt)
				b.WriteBytes(m.Params())
			})
		}
	}
	return nil
}

func corruptf(format string, args ...interface{}) error {
	return errors.Wrapf(checkpoint.ErrCorrupt, format, args...)
}

// ReadObject restores state written by WriteObject into a graph of the same shape.
// The graph must be initialized and not yet running.
func (g *Graph) ReadObject(b *checkpoint.Buffer) error {
	if g.state != Initialized {
		return g.stateError("restore")
	}
	iter, err := b.ReadUint64()
	if err != nil {
		return err
	}

	nodes, err := b.ReadInt()
	if err != nil {
		return err
	}
	if int(nodes) != len(g.nodes) {
		return corruptf("graph %s has %d nodes, checkpoint has %d", g.name, len(g.nodes), nodes)
	}
	for _, n := range g.nodes {
		if n.fired, err = b.ReadUint64(); err != nil {
			return err
		}
		split, join := n.fanouts()
		for _, f := range []*fanout{split, join} {
			if f == nil {
				continue
			}
			if f.fired, err = b.ReadUint64(); err != nil {
				return err
			}
		}
		d, ok := n.data.(*filterData)
		if !ok {
			continue
		}
		state, err := b.ReadBytes()
		if err != nil {
			return err
		}
		if s, ok := d.f.(checkpoint.Serializable); ok {
			if err := s.ReadObject(checkpoint.NewReadBuffer(state)); err != nil {
				return errors.Wrapf(err, "restore %s", n.name)
			}
		} else if len(state) > 0 {
			return corruptf("node %s has no state, checkpoint has %d bytes", n.name, len(state))
		}
	}

	tapes, err := b.ReadInt()
	if err != nil {
		return err
	}
	if int(tapes) != len(g.tapes) {
		return corruptf("graph %s has %d tapes, checkpoint has %d", g.name, len(g.tapes), tapes)
	}
	for i, t := range g.tapes {
		items, err := b.ReadBytes()
		if err != nil {
			return err
		}
		if err := t.Restore(items); err != nil {
			return corruptf("tape %d: %v", i, err)
		}
	}

	portals, err := b.ReadInt()
	if err != nil {
		return err
	}
	if int(portals) != len(g.portals) {
		return corruptf("graph %s has %d portals, checkpoint has %d", g.name, len(g.portals), portals)
	}
	for _, p := range g.portals {
		receivers, err := b.ReadInt()
		if err != nil {
			return err
		}
		if int(receivers) != len(p.receivers) {
			return corruptf("portal %s has %d receivers, checkpoint has %d", p.name, len(p.receivers), receivers)
		}
		for _, r := range p.receivers {
			for r.pending.Len() > 0 {
				r.pending.Pop()
			}
			pending, err := b.ReadInt()
			if err != nil {
				return err
			}
			for i := int32(0); i < pending; i++ {
				id, err := b.ReadInt()
				if err != nil {
					return err
				}
				at, err := b.ReadInt()
				if err != nil {
					return err
				}
				params, err := b.ReadBytes()
				if err != nil {
					return err
				}
				m := message.New(id, at)
				m.SetParams(params)
				if err := r.pending.Push(m); err != nil {
					return err
				}
			}
		}
	}
	g.iteration = iter
	return nil
}
