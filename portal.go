package streamit

import (
	"github.com/pkg/errors"

	"github.com/streamit/streamit/message"
)

// Handler runs a control call on its receiver.
// Handlers run on the receiver's thread just before it fires and must not block.
type Handler func(m *message.Message) error

// Capabilities maps message ids to the handlers of a receiver.
type Capabilities map[int32]Handler

type registration struct {
	portal  *Portal
	node    *node
	caps    Capabilities
	latency Latency
	pending message.Stack
}

func (r *registration) deliver(m *message.Message) error {
	h, ok := r.caps[m.MethodID]
	if !ok {
		return errors.Errorf("portal %s: receiver %s has no handler for message %d", r.portal.name, r.node.name, m.MethodID)
	}
	m.Reset()
	return errors.Wrapf(h(m), "portal %s: message %d", r.portal.name, m.MethodID)
}

// Portal broadcasts control messages to its receivers independently of the data tapes.
type Portal struct {
	name      string
	g         *Graph
	receivers []*registration
}

// NewPortal creates a portal whose receivers are nodes of g.
func (g *Graph) NewPortal(name string) *Portal {
	p := &Portal{name: name, g: g}
	g.portals = append(g.portals, p)
	return p
}

func (p *Portal) Name() string { return p.name }

// Receivers returns the number of registered receivers.
func (p *Portal) Receivers() int { return len(p.receivers) }

// RegisterReceiver adds the filter id as a receiver accepting messages within latency.
func (p *Portal) RegisterReceiver(id NodeID, caps Capabilities, latency Latency) error {
	n, err := p.g.lookup(id)
	if err != nil {
		return err
	}
	if n.kind() != FilterKind {
		return errors.Wrapf(ErrWrongKind, "portal %s: receiver %s is a %v, not a filter", p.name, n.name, n.kind())
	}
	if err := latency.validate(); err != nil {
		return errors.Wrapf(err, "portal %s: receiver %s", p.name, n.name)
	}
	r := &registration{portal: p, node: n, caps: caps, latency: latency}
	p.receivers = append(p.receivers, r)
	n.receivers = append(n.receivers, r)
	return nil
}

// Send delivers a copy of m to every receiver.
// Each copy is scheduled at the receiver's current firing plus the smallest offset
// allowed by both latency and the receiver's own latency.
// Nothing is queued unless every receiver accepts the message.
func (p *Portal) Send(msgID int32, latency Latency, m *message.Message) error {
	if err := latency.validate(); err != nil {
		return errors.Wrapf(err, "portal %s", p.name)
	}
	at := make([]int32, len(p.receivers))
	for i, r := range p.receivers {
		if _, ok := r.caps[msgID]; !ok {
			return errors.Errorf("portal %s: receiver %s has no handler for message %d", p.name, r.node.name, msgID)
		}
		off, ok := latency.offset(r.latency)
		if !ok {
			return errors.Wrapf(ErrLatencyOutOfRange, "portal %s: latency %v outside %v of receiver %s", p.name, latency, r.latency, r.node.name)
		}
		at[i] = message.Firing(r.node.fired) + off
	}
	for i, r := range p.receivers {
		c := m.Clone()
		c.MethodID = msgID
		c.ExecuteAt = at[i]
		if err := r.pending.Push(c); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of messages not yet delivered.
func (p *Portal) Pending() int {
	c := 0
	for _, r := range p.receivers {
		c += r.pending.Len()
	}
	return c
}
