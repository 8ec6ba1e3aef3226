package streamit

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

type latencyKind int

const (
	bestEffort latencyKind = iota
	latencyRange
	latencyExact
)

// Latency constrains the number of receiver firings between a send and its delivery.
// The zero value is best effort.
type Latency struct {
	kind     latencyKind
	min, max int32
	exact    []int32
}

// BestEffort delivers before the receiver's next firing, with no ordering relative to data.
func BestEffort() Latency { return Latency{} }

// Range accepts any offset in [min, max].
func Range(min, max int32) Latency {
	return Latency{kind: latencyRange, min: min, max: max}
}

// Exact accepts only the listed offsets.
func Exact(offsets ...int32) Latency {
	e := append([]int32(nil), offsets...)
	sort.Slice(e, func(i, j int) bool { return e[i] < e[j] })
	return Latency{kind: latencyExact, exact: e}
}

func (l Latency) IsBestEffort() bool { return l.kind == bestEffort }

func (l Latency) String() string {
	switch l.kind {
	case latencyRange:
		return fmt.Sprintf("[%d,%d]", l.min, l.max)
	case latencyExact:
		return fmt.Sprintf("exact%v", l.exact)
	default:
		return "best effort"
	}
}

func (l Latency) validate() error {
	switch l.kind {
	case latencyRange:
		if l.min < 0 || l.max < l.min {
			return errors.Errorf("invalid latency range %v", l)
		}
	case latencyExact:
		if len(l.exact) == 0 {
			return errors.New("exact latency needs at least one offset")
		}
		if l.exact[0] < 0 {
			return errors.Errorf("invalid negative latency %v", l)
		}
	}
	return nil
}

func (l Latency) contains(v int32) bool {
	switch l.kind {
	case latencyRange:
		return v >= l.min && v <= l.max
	case latencyExact:
		i := sort.Search(len(l.exact), func(i int) bool { return l.exact[i] >= v })
		return i < len(l.exact) && l.exact[i] == v
	default:
		return true
	}
}

// offset returns the smallest offset accepted by both l and r.
func (l Latency) offset(r Latency) (int32, bool) {
	switch {
	case l.kind == bestEffort && r.kind == bestEffort:
		return 0, true
	case l.kind == bestEffort:
		return r.offset(l)
	case l.kind == latencyExact:
		for _, v := range l.exact {
			if r.contains(v) {
				return v, true
			}
		}
		return 0, false
	case r.kind == latencyExact:
		return r.offset(l)
	case r.kind == bestEffort:
		return l.min, true
	default:
		lo, hi := l.min, l.max
		if r.min > lo {
			lo = r.min
		}
		if r.max < hi {
			hi = r.max
		}
		return lo, lo <= hi
	}
}
