package codec

import (
	"encoding/binary"
	"math"
)

// Swap16 reverses the byte order of a 16-bit word.
func Swap16(v uint16) uint16 {
	return v<<8 | v>>8
}

// Swap32 reverses the byte order of a 32-bit word.
func Swap32(v uint32) uint32 {
	return v<<24 | (v<<8)&0x00FF0000 | (v>>8)&0x0000FF00 | v>>24
}

// Field accessors. Every codec names its byte order explicitly through one
// of these so that a frame mixing orders reads field by field.

func u16LE(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func u16BE(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func i16LE(b []byte) int16  { return int16(binary.LittleEndian.Uint16(b)) }
func i16BE(b []byte) int16  { return int16(binary.BigEndian.Uint16(b)) }
func i32LE(b []byte) int32  { return int32(binary.LittleEndian.Uint32(b)) }

func putU16LE(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putU16BE(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putI16LE(b []byte, v int16)  { binary.LittleEndian.PutUint16(b, uint16(v)) }
func putI16BE(b []byte, v int16)  { binary.BigEndian.PutUint16(b, uint16(v)) }
func putI32LE(b []byte, v int32)  { binary.LittleEndian.PutUint32(b, uint32(v)) }

// clampRound rounds v/lsb to the nearest integer and clamps it into
// [lo, hi]. NaN encodes as zero.
func clampRound(v, lsb, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v / lsb)
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}

func satU8(v, lsb float64) uint8 {
	return uint8(clampRound(v, lsb, 0, math.MaxUint8))
}

func satU16(v, lsb float64) uint16 {
	return uint16(clampRound(v, lsb, 0, math.MaxUint16))
}

func satI16(v, lsb float64) int16 {
	return int16(clampRound(v, lsb, math.MinInt16, math.MaxInt16))
}

func satI32(v, lsb float64) int32 {
	return int32(clampRound(v, lsb, math.MinInt32, math.MaxInt32))
}

// satBits saturates an unsigned value into the low n bits.
func satBits(v, lsb float64, n uint) uint16 {
	return uint16(clampRound(v, lsb, 0, float64(uint32(1)<<n-1)))
}

// offsetByte encodes a temperature carried as an unsigned byte with a
// fixed negative offset (raw = value + offset).
func offsetByte(v int8, offset int) uint8 {
	r := int(v) + offset
	if r < 0 {
		return 0
	}
	if r > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(r)
}

// fromOffsetByte is the inverse of offsetByte, saturated into int8.
func fromOffsetByte(b uint8, offset int) int8 {
	return clampI8(int(b) - offset)
}

func clampI8(v int) int8 {
	if v < math.MinInt8 {
		return math.MinInt8
	}
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	return int8(v)
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
