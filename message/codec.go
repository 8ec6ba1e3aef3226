package message

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ChunkReader reads exactly len(p) bytes or fails.
type ChunkReader interface {
	ReadChunk(p []byte) error
}

// ChunkWriter writes all of p or fails.
type ChunkWriter interface {
	WriteChunk(p []byte) error
}

// MaxSize bounds the size field accepted from the wire.
const MaxSize = 1 << 24

// WriteTo encodes the header followed by the parameter payload.
func (m *Message) WriteTo(w ChunkWriter) error {
	b := make([]byte, m.Size())
	binary.LittleEndian.PutUint32(b[0:], uint32(m.Size()))
	binary.LittleEndian.PutUint32(b[4:], uint32(m.MethodID))
	binary.LittleEndian.PutUint32(b[8:], uint32(m.ExecuteAt))
	copy(b[HeaderSize:], m.params)
	return errors.Wrap(w.WriteChunk(b), "write message")
}

// ReadFrom decodes a message written by WriteTo.
func ReadFrom(r ChunkReader) (*Message, error) {
	var h [HeaderSize]byte
	if err := r.ReadChunk(h[:]); err != nil {
		return nil, errors.Wrap(err, "read message header")
	}
	size := int32(binary.LittleEndian.Uint32(h[0:]))
	if size < HeaderSize || size > MaxSize || (size-HeaderSize)%wordSize != 0 {
		return nil, errors.Wrapf(ErrBadHeader, "size %d", size)
	}
	m := New(int32(binary.LittleEndian.Uint32(h[4:])), int32(binary.LittleEndian.Uint32(h[8:])))
	m.params = make([]byte, size-HeaderSize)
	if err := r.ReadChunk(m.params); err != nil {
		return nil, errors.Wrap(err, "read message params")
	}
	return m, nil
}
