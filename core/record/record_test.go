package record

import (
	"errors"
	"math"
	"testing"

	werrors "github.com/FocuswithJustin/walscope/core/errors"
)

func TestSerialTypeSize(t *testing.T) {
	tests := []struct {
		t    uint64
		want int
	}{
		{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 6}, {6, 8}, {7, 8}, {8, 0}, {9, 0},
		{10, 0}, {11, 0},
		{12, 0}, {13, 0}, {14, 1}, {15, 1}, {100, 44}, {101, 44},
		{math.MaxUint64, MaxValueSize}, {math.MaxUint64 - 1, MaxValueSize},
		{2*MaxValueSize + 12, MaxValueSize}, {2*MaxValueSize + 14, MaxValueSize},
	}
	for _, tt := range tests {
		if got := SerialTypeSize(tt.t); got != tt.want {
			t.Errorf("SerialTypeSize(%d) = %d, want %d", tt.t, got, tt.want)
		}
	}

	for parity := uint64(12); parity <= 13; parity++ {
		prev := -1
		for st := parity; st < 400; st += 2 {
			got := SerialTypeSize(st)
			if got < prev {
				t.Fatalf("SerialTypeSize(%d) = %d, smaller than previous %d", st, got, prev)
			}
			prev = got
		}
	}
}

func TestReadSerialValue(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		t    uint64
		want Value
	}{
		{"null", nil, 0, Null()},
		{"int8 negative", []byte{0xff}, 1, Integer(-1)},
		{"int16", []byte{0x01, 0x00}, 2, Integer(256)},
		{"int24 negative", []byte{0xff, 0xff, 0xfe}, 3, Integer(-2)},
		{"int32", []byte{0x7f, 0xff, 0xff, 0xff}, 4, Integer(math.MaxInt32)},
		{"int48 negative", []byte{0x80, 0, 0, 0, 0, 0}, 5, Integer(-1 << 47)},
		{"int64", []byte{0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 6, Integer(math.MaxInt64)},
		{"float", []byte{0x40, 0x09, 0x21, 0xfb, 0x54, 0x44, 0x2d, 0x18}, 7, Real(math.Pi)},
		{"zero", nil, 8, Integer(0)},
		{"one", nil, 9, Integer(1)},
		{"reserved", nil, 10, Null()},
		{"text", []byte("abc"), 19, Text("abc")},
		{"empty text", nil, 13, Text("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, off, err := ReadSerialValue(tt.buf, 0, tt.t)
			if err != nil {
				t.Fatalf("ReadSerialValue() error = %v", err)
			}
			if got.Kind != tt.want.Kind || got.String() != tt.want.String() {
				t.Errorf("ReadSerialValue() = %v (%s), want %v (%s)", got, got.Kind, tt.want, tt.want.Kind)
			}
			if off != len(tt.buf) {
				t.Errorf("offset = %d, want %d", off, len(tt.buf))
			}
		})
	}

	t.Run("blob", func(t *testing.T) {
		got, _, err := ReadSerialValue([]byte{0xde, 0xad}, 0, 16)
		if err != nil {
			t.Fatalf("ReadSerialValue() error = %v", err)
		}
		if got.Kind != KindBlob || got.String() != "dead" {
			t.Errorf("ReadSerialValue() = %v, want blob dead", got)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := ReadSerialValue([]byte{0x01}, 0, 4)
		if !errors.Is(err, werrors.ErrTruncated) {
			t.Errorf("ReadSerialValue() error = %v, want ErrTruncated", err)
		}
	})
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"ascii", []byte("plain"), "plain"},
		{"utf8", []byte("caf\xc3\xa9"), "café"},
		{"latin1", []byte("caf\xe9"), "café"},
		{"mixed keeps utf8", []byte("\xc3\xa9\xff"), "é\uFFFD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeText(tt.in); got != tt.want {
				t.Errorf("DecodeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRecordRoundTrip(t *testing.T) {
	in := []Value{
		Null(),
		Integer(0),
		Integer(1),
		Integer(-300),
		Integer(1 << 40),
		Real(2.5),
		Text("hello"),
		Blob([]byte{1, 2, 3}),
	}
	payload := AppendRecord(nil, in...)

	got, err := ParseRecord(payload)
	if err != nil {
		t.Fatalf("ParseRecord() error = %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("ParseRecord() returned %d values, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i].Kind != in[i].Kind || got[i].String() != in[i].String() {
			t.Errorf("value[%d] = %v (%s), want %v (%s)", i, got[i], got[i].Kind, in[i], in[i].Kind)
		}
	}
}

func TestParseRecordTruncated(t *testing.T) {
	payload := AppendRecord(nil, Integer(7), Text("a long enough string"))

	got, err := ParseRecord(payload[:len(payload)-5])
	if !errors.Is(err, werrors.ErrTruncated) {
		t.Fatalf("ParseRecord() error = %v, want ErrTruncated", err)
	}
	if len(got) != 1 || got[0].Int != 7 {
		t.Errorf("ParseRecord() partial = %v, want [7]", got)
	}

	if _, err := ParseRecord(nil); !errors.Is(err, werrors.ErrTruncated) {
		t.Errorf("ParseRecord(nil) error = %v, want ErrTruncated", err)
	}
	if _, err := ParseRecord([]byte{0x00}); err == nil {
		t.Errorf("ParseRecord(zero header) error = nil, want error")
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null(), "NULL"},
		{Integer(-5), "-5"},
		{Real(1.5), "1.5"},
		{Text("x"), "x"},
		{Blob([]byte{0x0f}), "0f"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%s.String() = %q, want %q", tt.v.Kind, got, tt.want)
		}
	}
}

func TestFromAny(t *testing.T) {
	if v := FromAny(nil); !v.IsNull() {
		t.Errorf("FromAny(nil) = %v, want NULL", v)
	}
	if v := FromAny(int64(3)); v.Kind != KindInteger || v.Int != 3 {
		t.Errorf("FromAny(int64) = %v", v)
	}
	if v := FromAny("s"); v.Kind != KindText {
		t.Errorf("FromAny(string) kind = %s", v.Kind)
	}
	if v := FromAny([]byte{1}); v.Kind != KindBlob {
		t.Errorf("FromAny([]byte) kind = %s", v.Kind)
	}
	if v := FromAny(true); v.Int != 1 {
		t.Errorf("FromAny(true) = %v", v)
	}
}

// maxVarint is the 9-byte varint encoding of 2^64-1.
var maxVarint = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func TestParseRecordHostileSerialTypes(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    int // values decoded before the failure
	}{
		{"max serial type", append(append([]byte{10}, maxVarint...), 'a', 'b'), 0},
		{"max even serial type", append(append([]byte{10}, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe), 'a'), 0},
		{"huge text after a value", append(append([]byte{11, 0x01}, maxVarint...), 0x05), 1},
		{"header length past payload", []byte{0x7f, 0x01, 0x01}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecord(tt.payload)
			if !errors.Is(err, werrors.ErrTruncated) {
				t.Errorf("ParseRecord() error = %v, want ErrTruncated", err)
			}
			if len(got) != tt.want {
				t.Errorf("ParseRecord() = %v, want %d values", got, tt.want)
			}
		})
	}

	if _, _, err := ReadSerialValue([]byte{1, 2}, 3, 1); !errors.Is(err, werrors.ErrTruncated) {
		t.Errorf("ReadSerialValue(offset past end) error = %v, want ErrTruncated", err)
	}
	if _, _, err := ReadSerialValue([]byte{1, 2}, 1, math.MaxUint64); !errors.Is(err, werrors.ErrTruncated) {
		t.Errorf("ReadSerialValue(max serial type) error = %v, want ErrTruncated", err)
	}
}

func FuzzParseRecord(f *testing.F) {
	f.Add(AppendRecord(nil, Integer(7), Text("hello"), Null()))
	f.Add(AppendRecord(nil, Real(1.5), Blob([]byte{0x89, 'P', 'N', 'G'})))
	f.Add(append(append([]byte{10}, maxVarint...), 'a', 'b'))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, payload []byte) {
		values, _ := ParseRecord(payload)
		if len(values) > len(payload) {
			t.Errorf("ParseRecord() decoded %d values from %d bytes", len(values), len(payload))
		}
	})
}
