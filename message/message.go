// Package message implements the self describing records used for remote
// method invocation between stream nodes, and the pending list that holds
// them until their scheduled execution point.
package message

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the encoded size of size, method id and execute-at.
const HeaderSize = 12

const wordSize = 4

var (
	ErrShortPayload = errors.New("read past end of message payload")
	ErrBadHeader    = errors.New("invalid message header")
)

// Message is a control call addressed to a method of a receiver,
// scheduled for execution at a given iteration of the receiver.
//
// Parameters are appended with the Push methods and read back, in the same
// order, with the Param methods.
type Message struct {
	MethodID int32
	// ExecuteAt is the receiver firing the message is delivered before, as returned by Firing.
	ExecuteAt int32

	params []byte
	read   int

	// pending list links, owned by Stack
	next, prev *Message
	stack      *Stack
}

// Firing returns the low 32 bits of a firing count, the form ExecuteAt is kept in.
// Schedules stay ordered across the wrap as long as no message is pending
// for more than 2^31 firings.
func Firing(n uint64) int32 {
	return int32(uint32(n))
}

// New creates an empty message.
func New(methodID, executeAt int32) *Message {
	return &Message{
		MethodID:  methodID,
		ExecuteAt: executeAt,
	}
}

// Size returns the encoded size of the message including the header.
func (m *Message) Size() int {
	return HeaderSize + len(m.params)
}

// Params returns the raw parameter payload.
func (m *Message) Params() []byte {
	return m.params
}

// AllocParams reserves room for size bytes of parameters.
func (m *Message) AllocParams(size int) {
	if cap(m.params)-len(m.params) < size {
		p := make([]byte, len(m.params), len(m.params)+size)
		copy(p, m.params)
		m.params = p
	}
}

// SetParams replaces the parameter payload with a copy of p and rewinds the read cursor.
func (m *Message) SetParams(p []byte) {
	m.params = append(m.params[:0], p...)
	m.read = 0
}

// Reset rewinds the read cursor to the first parameter.
func (m *Message) Reset() {
	m.read = 0
}

// Remaining returns the number of unread payload bytes.
func (m *Message) Remaining() int {
	return len(m.params) - m.read
}

// Clone returns a copy of the message that is not on any stack.
func (m *Message) Clone() *Message {
	c := New(m.MethodID, m.ExecuteAt)
	c.params = append([]byte(nil), m.params...)
	return c
}

func (m *Message) pushWord(w uint32) {
	var b [wordSize]byte
	binary.LittleEndian.PutUint32(b[:], w)
	m.params = append(m.params, b[:]...)
}

func (m *Message) PushInt(v int32) {
	m.pushWord(uint32(v))
}

func (m *Message) PushFloat(v float32) {
	m.pushWord(math.Float32bits(v))
}

func (m *Message) PushIntArray(vs []int32) {
	m.AllocParams(len(vs) * wordSize)
	for _, v := range vs {
		m.pushWord(uint32(v))
	}
}

func (m *Message) PushFloatArray(vs []float32) {
	m.AllocParams(len(vs) * wordSize)
	for _, v := range vs {
		m.pushWord(math.Float32bits(v))
	}
}

func (m *Message) word() (uint32, error) {
	if m.Remaining() < wordSize {
		return 0, ErrShortPayload
	}
	w := binary.LittleEndian.Uint32(m.params[m.read:])
	m.read += wordSize
	return w, nil
}

// IntParam reads the next parameter as an int and advances the cursor.
func (m *Message) IntParam() (int32, error) {
	w, err := m.word()
	return int32(w), err
}

// FloatParam reads the next parameter as a float and advances the cursor.
func (m *Message) FloatParam() (float32, error) {
	w, err := m.word()
	return math.Float32frombits(w), err
}

// IntArrayParam fills dst with the next len(dst) parameters.
func (m *Message) IntArrayParam(dst []int32) error {
	if m.Remaining() < len(dst)*wordSize {
		return ErrShortPayload
	}
	for i := range dst {
		w, _ := m.word()
		dst[i] = int32(w)
	}
	return nil
}

// FloatArrayParam fills dst with the next len(dst) parameters.
func (m *Message) FloatArrayParam(dst []float32) error {
	if m.Remaining() < len(dst)*wordSize {
		return ErrShortPayload
	}
	for i := range dst {
		w, _ := m.word()
		dst[i] = math.Float32frombits(w)
	}
	return nil
}
