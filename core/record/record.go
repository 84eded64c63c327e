package record

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/FocuswithJustin/walscope/core/errors"
)

// Serial type codes
//
//	0: NULL
//	1-6: big-endian signed integer of 1, 2, 3, 4, 6 or 8 bytes
//	7: IEEE 754 float64 (big-endian)
//	8, 9: the integer constants 0 and 1 (no data stored)
//	10, 11: reserved, decoded as NULL with no data
//	N>=12 (even): BLOB of (N-12)/2 bytes
//	N>=13 (odd): TEXT of (N-13)/2 bytes
const (
	SerialNull    = 0
	SerialInt8    = 1
	SerialInt16   = 2
	SerialInt24   = 3
	SerialInt32   = 4
	SerialInt48   = 5
	SerialInt64   = 6
	SerialFloat64 = 7
	SerialZero    = 8
	SerialOne     = 9
)

var fixedSizes = [...]int{0, 1, 2, 3, 4, 6, 8, 8, 0, 0, 0, 0}

// MaxValueSize caps the size SerialTypeSize reports for BLOB and TEXT.
// SQLite itself never stores a value larger than 2^31-1 bytes.
const MaxValueSize = math.MaxInt32

// SerialTypeSize returns the number of body bytes a value of serial type t
// occupies, capped at MaxValueSize.
func SerialTypeSize(t uint64) int {
	if t < uint64(len(fixedSizes)) {
		return fixedSizes[t]
	}
	n := (t - 12) / 2
	if t%2 == 1 {
		n = (t - 13) / 2
	}
	if n > MaxValueSize {
		return MaxValueSize
	}
	return int(n)
}

// ReadSerialValue decodes one value of serial type t from buf[off:] and
// returns it with the offset just past it.
func ReadSerialValue(buf []byte, off int, t uint64) (Value, int, error) {
	size := SerialTypeSize(t)
	if off < 0 || off > len(buf) || size > len(buf)-off {
		return Null(), off, errors.Truncatedf("serial type %d at offset %d", t, off)
	}
	b := buf[off : off+size]
	end := off + size

	switch {
	case t == SerialNull || t == 10 || t == 11:
		return Null(), end, nil
	case t >= SerialInt8 && t <= SerialInt64:
		return Integer(readInt(b)), end, nil
	case t == SerialFloat64:
		return Real(math.Float64frombits(binary.BigEndian.Uint64(b))), end, nil
	case t == SerialZero:
		return Integer(0), end, nil
	case t == SerialOne:
		return Integer(1), end, nil
	case t%2 == 0:
		return Blob(b), end, nil
	default:
		return Text(DecodeText(b)), end, nil
	}
}

// readInt sign-extends a big-endian integer of 1 to 8 bytes.
func readInt(b []byte) int64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	shift := uint(64 - 8*len(b))
	return int64(v<<shift) >> shift
}

// DecodeText converts stored TEXT bytes to a Go string.
//
// Valid UTF-8 is returned as is. Bytes that contain no valid multi-byte
// sequence at all are treated as Latin-1. Anything else keeps its valid runes
// and replaces the invalid bytes with U+FFFD.
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if !hasMultibyteRune(b) {
		if s, err := charmap.ISO8859_1.NewDecoder().Bytes(b); err == nil {
			return string(s)
		}
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func hasMultibyteRune(b []byte) bool {
	for len(b) > 0 {
		r, n := utf8.DecodeRune(b)
		if r != utf8.RuneError && n > 1 {
			return true
		}
		b = b[n:]
	}
	return false
}

// ParseRecord decodes a record payload into its column values.
//
// The payload may be clipped (overflow pages are never followed). On a
// truncated header or body the values decoded so far are returned together
// with an error wrapping ErrTruncated.
func ParseRecord(payload []byte) ([]Value, error) {
	hdrLen, off, err := ReadVarint(payload, 0)
	if err != nil {
		return nil, err
	}
	if hdrLen < uint64(off) {
		return nil, errors.Truncatedf("record header length %d", hdrLen)
	}
	hdrEnd := int(min(hdrLen, uint64(len(payload))))

	var types []uint64
	for off < hdrEnd {
		var t uint64
		t, off, err = ReadVarint(payload[:hdrEnd], off)
		if err != nil {
			break
		}
		types = append(types, t)
	}
	if hdrLen > uint64(len(payload)) {
		err = errors.Truncatedf("record header length %d exceeds payload %d", hdrLen, len(payload))
	}

	values := make([]Value, 0, len(types))
	body := hdrEnd
	for _, t := range types {
		var v Value
		var verr error
		v, body, verr = ReadSerialValue(payload, body, t)
		if verr != nil {
			return values, verr
		}
		values = append(values, v)
	}
	return values, err
}

// SerialTypeOf returns the serial type AppendRecord uses for v.
func SerialTypeOf(v Value) uint64 {
	switch v.Kind {
	case KindInteger:
		switch i := v.Int; {
		case i == 0:
			return SerialZero
		case i == 1:
			return SerialOne
		case i >= math.MinInt8 && i <= math.MaxInt8:
			return SerialInt8
		case i >= math.MinInt16 && i <= math.MaxInt16:
			return SerialInt16
		case i >= -1<<23 && i < 1<<23:
			return SerialInt24
		case i >= math.MinInt32 && i <= math.MaxInt32:
			return SerialInt32
		case i >= -1<<47 && i < 1<<47:
			return SerialInt48
		default:
			return SerialInt64
		}
	case KindReal:
		return SerialFloat64
	case KindText:
		return uint64(len(v.Text))*2 + 13
	case KindBlob:
		return uint64(len(v.Blob))*2 + 12
	default:
		return SerialNull
	}
}

// AppendRecord appends the record encoding of values to buf.
func AppendRecord(buf []byte, values ...Value) []byte {
	var hdr []byte
	for _, v := range values {
		hdr = AppendVarint(hdr, SerialTypeOf(v))
	}
	// The header length counts its own varint.
	hdrLen := uint64(len(hdr) + 1)
	if VarintLen(hdrLen) > 1 {
		hdrLen = uint64(len(hdr) + VarintLen(uint64(len(hdr)+2)))
	}
	buf = AppendVarint(buf, hdrLen)
	buf = append(buf, hdr...)

	for _, v := range values {
		t := SerialTypeOf(v)
		switch v.Kind {
		case KindInteger:
			n := SerialTypeSize(t)
			for i := n - 1; i >= 0; i-- {
				buf = append(buf, byte(uint64(v.Int)>>(8*uint(i))))
			}
		case KindReal:
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.Float))
		case KindText:
			buf = append(buf, v.Text...)
		case KindBlob:
			buf = append(buf, v.Blob...)
		}
	}
	return buf
}
