package streamit

import (
	"github.com/streamit/streamit/tape"
)

// Policy is how a splitter distributes items to its children or a joiner collects them.
type Policy int

const (
	RoundRobin Policy = iota
	WeightedRoundRobin
	// Duplicate copies every item to all children. Splitter only.
	Duplicate
	// Combine takes one item per child per round. Joiner only.
	Combine
	// Null passes items through a single child.
	Null
)

func (p Policy) String() string {
	switch p {
	case RoundRobin:
		return "roundrobin"
	case WeightedRoundRobin:
		return "weighted_roundrobin"
	case Duplicate:
		return "duplicate"
	case Combine:
		return "combine"
	case Null:
		return "null"
	default:
		return "unknown"
	}
}

// fanout is the splitter or joiner of a splitjoin or feedback loop.
// ratio holds one item count per child tape.
type fanout struct {
	policy Policy
	ratio  []int
	tapes  []*tape.Tape
	fired  uint64
}

// Fanout describes a splitter or joiner.
type Fanout struct {
	Policy Policy
	Fan    int
	Ratio  []int
}

func (f *fanout) describe() Fanout {
	return Fanout{
		Policy: f.policy,
		Fan:    len(f.ratio),
		Ratio:  append([]int(nil), f.ratio...),
	}
}

func newFanout(node string, splitter bool, p Policy, fan int, ratios []int) (*fanout, error) {
	side := "joiner"
	if splitter {
		side = "splitter"
	}
	if fan <= 0 {
		return nil, configErrorf(node, "%s fan must be positive, got %d", side, fan)
	}
	for _, r := range ratios {
		if r <= 0 {
			return nil, configErrorf(node, "%s ratios must be positive, got %v", side, ratios)
		}
	}
	ratio := make([]int, fan)
	uniform := func() error {
		switch len(ratios) {
		case 0:
			for i := range ratio {
				ratio[i] = 1
			}
		case 1:
			for i := range ratio {
				ratio[i] = ratios[0]
			}
		default:
			return configErrorf(node, "%s %v takes at most one ratio, got %d", side, p, len(ratios))
		}
		return nil
	}
	switch p {
	case RoundRobin:
		if err := uniform(); err != nil {
			return nil, err
		}
	case WeightedRoundRobin:
		if len(ratios) != fan {
			return nil, configErrorf(node, "%s %v needs %d ratios, got %d", side, p, fan, len(ratios))
		}
		copy(ratio, ratios)
	case Combine:
		if splitter {
			return nil, configErrorf(node, "combine is a joiner policy")
		}
		if len(ratios) > 1 && len(ratios) != fan {
			return nil, configErrorf(node, "%s %v needs %d ratios, got %d", side, p, fan, len(ratios))
		}
		if len(ratios) == fan {
			copy(ratio, ratios)
		} else if err := uniform(); err != nil {
			return nil, err
		}
	case Duplicate:
		if !splitter {
			return nil, configErrorf(node, "duplicate is a splitter policy")
		}
		if err := uniform(); err != nil {
			return nil, err
		}
	case Null:
		if fan != 1 {
			return nil, configErrorf(node, "null %s must have a fan of 1, got %d", side, fan)
		}
		if err := uniform(); err != nil {
			return nil, err
		}
	default:
		return nil, configErrorf(node, "unknown %s policy %d", side, p)
	}
	return &fanout{policy: p, ratio: ratio}, nil
}

// child returns the number of items moved to or from child i per cycle.
func (f *fanout) child(i int) int {
	return f.ratio[i]
}

// total returns the number of items moved on the shared side per cycle.
func (f *fanout) total() int {
	if f.policy == Duplicate {
		return f.ratio[0]
	}
	t := 0
	for _, r := range f.ratio {
		t += r
	}
	return t
}

func (f *fanout) canSplit(in *tape.Tape) bool {
	if in == nil || in.Len() < f.total() {
		return false
	}
	for i, t := range f.tapes {
		if t.Free() < f.child(i) {
			return false
		}
	}
	return true
}

// split runs one cycle. Children are served in registration order.
func (f *fanout) split(in *tape.Tape) {
	switch f.policy {
	case Duplicate:
		for j := 0; j < f.ratio[0]; j++ {
			item := in.ReadSlot()
			for _, t := range f.tapes {
				t.Push(item)
			}
			in.AdvanceRead()
		}
	default:
		for i, t := range f.tapes {
			for j := 0; j < f.ratio[i]; j++ {
				tape.Copy(t, in)
			}
		}
	}
	f.fired++
}

func (f *fanout) canJoin(out *tape.Tape) bool {
	if out == nil || out.Free() < f.total() {
		return false
	}
	for i, t := range f.tapes {
		if t.Len() < f.child(i) {
			return false
		}
	}
	return true
}

// join runs one cycle. Children are served in registration order.
func (f *fanout) join(out *tape.Tape) {
	switch f.policy {
	case Combine:
		rounds := 0
		for _, r := range f.ratio {
			if r > rounds {
				rounds = r
			}
		}
		for round := 0; round < rounds; round++ {
			for i, t := range f.tapes {
				if f.ratio[i] > round {
					tape.Copy(out, t)
				}
			}
		}
	default:
		for i, t := range f.tapes {
			for j := 0; j < f.ratio[i]; j++ {
				tape.Copy(out, t)
			}
		}
	}
	f.fired++
}
