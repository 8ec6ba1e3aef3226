package message

import "github.com/pkg/errors"

var ErrNotOnStack = errors.New("message is not on this stack")

// Stack is the pending list of messages awaiting delivery.
// Messages are kept in insertion order; any message may be removed.
// A message can be on at most one stack at a time.
type Stack struct {
	head, tail *Message
	n          int
}

// Len returns the number of pending messages.
func (s *Stack) Len() int { return s.n }

// Head returns the oldest message or nil.
func (s *Stack) Head() *Message { return s.head }

// Push appends m at the tail of the list.
func (s *Stack) Push(m *Message) error {
	if m.stack != nil {
		return errors.New("message is already pending on a stack")
	}
	m.stack = s
	m.prev = s.tail
	m.next = nil
	if s.tail == nil {
		s.head = m
	} else {
		s.tail.next = m
	}
	s.tail = m
	s.n++
	return nil
}

// Remove unlinks m wherever it is in the list.
func (s *Stack) Remove(m *Message) error {
	if m.stack != s {
		return ErrNotOnStack
	}
	if m.prev == nil {
		s.head = m.next
	} else {
		m.prev.next = m.next
	}
	if m.next == nil {
		s.tail = m.prev
	} else {
		m.next.prev = m.prev
	}
	m.next, m.prev, m.stack = nil, nil, nil
	s.n--
	return nil
}

// Pop removes and returns the oldest message, or nil if empty.
func (s *Stack) Pop() *Message {
	m := s.head
	if m != nil {
		_ = s.Remove(m)
	}
	return m
}

// Due removes and returns, in insertion order, every message scheduled at or before iter.
// Firings are compared modulo 2^32, see Firing.
func (s *Stack) Due(iter int32) []*Message {
	var due []*Message
	for m := s.head; m != nil; {
		next := m.next
		if int32(uint32(iter)-uint32(m.ExecuteAt)) >= 0 {
			_ = s.Remove(m)
			due = append(due, m)
		}
		m = next
	}
	return due
}

// Do calls f for each pending message in insertion order.
func (s *Stack) Do(f func(*Message)) {
	for m := s.head; m != nil; m = m.next {
		f(m)
	}
}
