package streamit

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("invalid stream graph configuration")
	// ErrWrongKind is returned when a node is used as a kind it is not.
	ErrWrongKind = errors.New("wrong node kind")
	// ErrInvalidState is returned for operations not allowed in the current graph state.
	ErrInvalidState = errors.New("invalid graph state")
	// ErrLatencyOutOfRange is returned when a send latency does not intersect a receiver latency.
	ErrLatencyOutOfRange = errors.New("message latency out of receiver range")
	// ErrStalled is returned when a source cannot fire because its output is full.
	ErrStalled = errors.New("stream graph stalled")
)

// ConfigError reports a structural problem of the graph found while it is built.
type ConfigError struct {
	Node   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Node == "" {
		return "stream graph: " + e.Reason
	}
	return fmt.Sprintf("stream graph node %s: %s", e.Node, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func configErrorf(node, format string, args ...interface{}) error {
	return &ConfigError{Node: node, Reason: fmt.Sprintf(format, args...)}
}

// RateError is raised when a work function uses more items than its node declares.
type RateError struct {
	Node     string
	Op       string
	Declared int
	Used     int
}

func (e *RateError) Error() string {
	return fmt.Sprintf("node %s: %s rate %d, used %d", e.Node, e.Op, e.Declared, e.Used)
}
