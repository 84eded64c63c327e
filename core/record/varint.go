package record

import (
	"github.com/FocuswithJustin/walscope/core/errors"
)

// MaxVarintLen is the longest encoding of a SQLite varint.
const MaxVarintLen = 9

// ReadVarint decodes the varint starting at buf[off] and returns its value
// and the offset just past it.
//
// Bytes one through eight contribute their low 7 bits, most significant group
// first, and continue while the high bit is set. A ninth byte contributes all
// 8 bits.
func ReadVarint(buf []byte, off int) (uint64, int, error) {
	if off < 0 || off >= len(buf) {
		return 0, off, errors.Truncatedf("varint at offset %d", off)
	}
	var v uint64
	for i := 0; i < MaxVarintLen-1; i++ {
		if off+i >= len(buf) {
			return 0, off, errors.Truncatedf("varint at offset %d", off)
		}
		b := buf[off+i]
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, off + i + 1, nil
		}
	}
	if off+8 >= len(buf) {
		return 0, off, errors.Truncatedf("varint at offset %d", off)
	}
	v = v<<8 | uint64(buf[off+8])
	return v, off + MaxVarintLen, nil
}

// VarintLen returns the number of bytes PutVarint uses for v.
func VarintLen(v uint64) int {
	if v > 0x00ffffffffffffff {
		return MaxVarintLen
	}
	n := 1
	for v > 0x7f {
		v >>= 7
		n++
	}
	return n
}

// PutVarint writes v into buf, which must hold at least VarintLen(v) bytes,
// and returns the number of bytes written.
func PutVarint(buf []byte, v uint64) int {
	if v > 0x00ffffffffffffff {
		buf[8] = byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			buf[i] = byte(v&0x7f) | 0x80
			v >>= 7
		}
		return MaxVarintLen
	}

	n := VarintLen(v)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(v & 0x7f)
		if i != n-1 {
			buf[i] |= 0x80
		}
		v >>= 7
	}
	return n
}

// AppendVarint appends the encoding of v to buf.
func AppendVarint(buf []byte, v uint64) []byte {
	var tmp [MaxVarintLen]byte
	n := PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
