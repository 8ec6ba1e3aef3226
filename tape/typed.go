package tape

import (
	"encoding/binary"
	"math"
)

// Typed accessors encode values little endian in the first bytes of an item.

func PushInt32(t *Tape, v int32) {
	binary.LittleEndian.PutUint32(t.WriteSlot(), uint32(v))
	t.write++
}

func PopInt32(t *Tape) int32 {
	return int32(binary.LittleEndian.Uint32(t.Pop()))
}

func PeekInt32(t *Tape, depth int) int32 {
	return int32(binary.LittleEndian.Uint32(t.Peek(depth)))
}

func PushFloat32(t *Tape, v float32) {
	binary.LittleEndian.PutUint32(t.WriteSlot(), math.Float32bits(v))
	t.write++
}

func PopFloat32(t *Tape) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(t.Pop()))
}

func PeekFloat32(t *Tape, depth int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(t.Peek(depth)))
}

func PushFloat64(t *Tape, v float64) {
	binary.LittleEndian.PutUint64(t.WriteSlot(), math.Float64bits(v))
	t.write++
}

func PopFloat64(t *Tape) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(t.Pop()))
}

func PeekFloat64(t *Tape, depth int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(t.Peek(depth)))
}
