// Package record decodes the SQLite record format: varints, serial types and
// the header/body layout stored in B-tree cell payloads.
//
// Nothing here touches a database connection; every function works on plain
// byte slices and never reads past their bounds.
package record

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// Kind identifies the storage class held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// String returns the lower-case storage class name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a decoded column value. Only the field selected by Kind is
// meaningful.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Text  string
	Blob  []byte
}

// Null returns a NULL value.
func Null() Value { return Value{Kind: KindNull} }

// Integer returns an INTEGER value.
func Integer(v int64) Value { return Value{Kind: KindInteger, Int: v} }

// Real returns a REAL value.
func Real(v float64) Value { return Value{Kind: KindReal, Float: v} }

// Text returns a TEXT value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Blob returns a BLOB value. The slice is not copied.
func Blob(b []byte) Value { return Value{Kind: KindBlob, Blob: b} }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// String renders v the way comparisons and plain-text exports see it:
// NULL as "NULL", numbers in their shortest form, BLOBs as lower-case hex.
func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindReal:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindText:
		return v.Text
	case KindBlob:
		return hex.EncodeToString(v.Blob)
	default:
		return "NULL"
	}
}

// Any converts v to the natural Go type: nil, int64, float64, string or
// []byte.
func (v Value) Any() any {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindReal:
		return v.Float
	case KindText:
		return v.Text
	case KindBlob:
		return v.Blob
	default:
		return nil
	}
}

// FromAny converts a database/sql scan result to a Value. Unknown types are
// formatted with %v and stored as TEXT.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case int64:
		return Integer(t)
	case int:
		return Integer(int64(t))
	case int32:
		return Integer(int64(t))
	case bool:
		if t {
			return Integer(1)
		}
		return Integer(0)
	case float64:
		return Real(t)
	case float32:
		return Real(float64(t))
	case string:
		return Text(t)
	case []byte:
		return Blob(t)
	default:
		return Text(fmt.Sprint(t))
	}
}
