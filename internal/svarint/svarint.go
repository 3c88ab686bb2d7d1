// Package svarint implements SQLite's big-endian variable-length integers
// for the subset of values this writer produces: row ids and serial types,
// which always fit in MaxLen bytes.
package svarint

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// MaxLen is the longest varint Read accepts.
const MaxLen = 5

// Length returns how many bytes Append and Put use to encode x.
func Length[T constraints.Integer](x T) int {
	xl := 64 - bits.LeadingZeros64(uint64(x))
	if xl <= 7 {
		return 1
	}
	return (xl + 6) / 7
}

// Append appends the canonical encoding of x to buf.
func Append[T constraints.Integer](buf []byte, x T) []byte {
	n := Length(x)
	for i := n - 1; i > 0; i-- {
		buf = append(buf, byte(uint64(x)>>(7*i))|0x80)
	}
	return append(buf, byte(x)&^0x80)
}

// Put writes the canonical encoding of x into buf and returns its length.
func Put[T constraints.Integer](buf []byte, x T) int {
	n := Length(x)
	for i := 0; i < n-1; i++ {
		buf[i] = byte(uint64(x)>>(7*(n-1-i))) | 0x80
	}
	buf[n-1] = byte(x) &^ 0x80
	return n
}

// PutForced writes x into exactly width bytes, padding the front with
// continuation bytes, so a later patch of a different value does not move
// whatever follows it.
func PutForced[T constraints.Integer](buf []byte, x T, width int) {
	for i := 0; i < width-1; i++ {
		buf[i] = byte(uint64(x)>>(7*(width-1-i)))&0x7f | 0x80
	}
	buf[width-1] = byte(x) & 0x7f
}

// Fits reports whether x can be stored by PutForced in width bytes.
func Fits[T constraints.Integer](x T, width int) bool {
	return uint64(x)>>(7*width) == 0
}

// Read decodes a varint from the front of buf, reading at most MaxLen bytes.
// It returns the value and the number of bytes consumed.
// n is 0 if buf ends early or the last byte read still has its continuation bit set.
func Read(buf []byte) (x uint64, n int) {
	for n < MaxLen && n < len(buf) {
		b := buf[n]
		n++
		x = x<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return x, n
		}
	}
	return 0, 0
}
