package checkpoint

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Serializable is implemented by anything whose state is part of a checkpoint.
type Serializable interface {
	WriteObject(*Buffer) error
	ReadObject(*Buffer) error
}

// Buffer is the object stream state is written to and read back from.
// Values are little endian; ReadX calls must mirror the WriteX calls.
type Buffer struct {
	b *bytes.Buffer
}

// NewBuffer wraps b. Writes append to b, reads consume from its front.
func NewBuffer(b *bytes.Buffer) *Buffer {
	return &Buffer{b: b}
}

// NewReadBuffer returns a buffer reading from data.
func NewReadBuffer(data []byte) *Buffer {
	return &Buffer{b: bytes.NewBuffer(data)}
}

// Bytes returns the unread contents.
func (b *Buffer) Bytes() []byte { return b.b.Bytes() }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.b.Len() }

func (b *Buffer) Write(p []byte) {
	b.b.Write(p)
}

// Read fills p entirely.
func (b *Buffer) Read(p []byte) error {
	if _, err := io.ReadFull(b.b, p); err != nil {
		return errors.Wrap(ErrCorrupt, "short read")
	}
	return nil
}

func (b *Buffer) WriteInt(v int32) {
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], uint32(v))
	b.b.Write(w[:])
}

func (b *Buffer) ReadInt() (int32, error) {
	var w [4]byte
	if err := b.Read(w[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(w[:])), nil
}

func (b *Buffer) WriteUint64(v uint64) {
	var w [8]byte
	binary.LittleEndian.PutUint64(w[:], v)
	b.b.Write(w[:])
}

func (b *Buffer) ReadUint64() (uint64, error) {
	var w [8]byte
	if err := b.Read(w[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(w[:]), nil
}

func (b *Buffer) WriteFloat32(v float32) {
	b.WriteInt(int32(math.Float32bits(v)))
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadInt()
	return math.Float32frombits(uint32(v)), err
}

func (b *Buffer) WriteFloat64(v float64) {
	b.WriteUint64(math.Float64bits(v))
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// WriteBytes writes p prefixed by its length.
func (b *Buffer) WriteBytes(p []byte) {
	b.WriteInt(int32(len(p)))
	b.b.Write(p)
}

// ReadBytes reads a slice written by WriteBytes.
func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > b.Len() {
		return nil, errors.Wrapf(ErrCorrupt, "byte slice of length %d with %d bytes left", n, b.Len())
	}
	p := make([]byte, n)
	if err := b.Read(p); err != nil {
		return nil, err
	}
	return p, nil
}
