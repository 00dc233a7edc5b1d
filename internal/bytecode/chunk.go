package bytecode

import (
	"encoding/binary"
	"math"
)

// putUvarint appends v to buf using the standard LEB128 varint encoding
// (spec's "VLQ"): used for every variable-size operand payload (register
// indices, string offsets, function indices, argument counts).
func putUvarint(buf *[]byte, v uint64) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	*buf = append(*buf, scratch[:n]...)
}

// putVarint zigzag-encodes a signed value before VLQ-encoding it; used for
// integer literals and debug-table line deltas.
func putVarint(buf *[]byte, v int64) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutVarint(scratch[:], v)
	*buf = append(*buf, scratch[:n]...)
}

func uvarintLen(v uint64) int {
	var scratch [binary.MaxVarintLen64]byte
	return binary.PutUvarint(scratch[:], v)
}

func varintLen(v int64) int {
	var scratch [binary.MaxVarintLen64]byte
	return binary.PutVarint(scratch[:], v)
}

// putCLQ appends a fixed-width little-endian signed displacement. width is
// one of 1, 2 or 4 bytes, chosen per function by the dry-measure pass so
// short functions don't pay for 4-byte jumps.
func putCLQ(buf *[]byte, v int64, width int) {
	switch width {
	case 1:
		*buf = append(*buf, byte(int8(v)))
	case 2:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(int16(v)))
		*buf = append(*buf, b[:]...)
	default:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
		*buf = append(*buf, b[:]...)
	}
}

func readCLQ(buf []byte, width int) int64 {
	switch width {
	case 1:
		return int64(int8(buf[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(buf)))
	default:
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	}
}

// fitsCLQ reports the narrowest width that can hold v as a signed value.
func fitsCLQ(v int64) int {
	switch {
	case v >= -128 && v <= 127:
		return 1
	case v >= -32768 && v <= 32767:
		return 2
	default:
		return 4
	}
}

// putFloat64 writes v as 8 little-endian bytes.
func putFloat64(dst []byte, v float64) {
	binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
}

func readFloat64(src []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(src))
}

