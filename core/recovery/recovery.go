// Package recovery extracts row records from the table-leaf frames of a WAL
// and attributes them to tables and columns through a page map.
//
// Every operation is best-effort: a frame or cell that cannot be decoded is
// skipped and the rest are still returned. Cancellation is checked once per
// frame.
package recovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/FocuswithJustin/walscope/core/blob"
	"github.com/FocuswithJustin/walscope/core/btree"
	"github.com/FocuswithJustin/walscope/core/pagemap"
	"github.com/FocuswithJustin/walscope/core/record"
	"github.com/FocuswithJustin/walscope/core/schema"
	"github.com/FocuswithJustin/walscope/core/wal"
)

// FrameSource is a parsed WAL.
type FrameSource interface {
	Valid() bool
	Frames() []wal.Frame
	PageData(i int) []byte
}

// Engine answers recovery queries over one WAL and its page map.
type Engine struct {
	src FrameSource
	pm  *pagemap.Map
}

// New returns an engine. A nil or invalid source yields empty results.
func New(src FrameSource, pm *pagemap.Map) *Engine {
	return &Engine{src: src, pm: pm}
}

// Field is one named column value in display form.
type Field struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Fields is an ordered row. It marshals as a JSON object with the columns in
// table order.
type Fields []Field

// Get returns the value of column.
func (f Fields) Get(column string) (string, bool) {
	for _, fd := range f {
		if fd.Column == column {
			return fd.Value, true
		}
	}
	return "", false
}

// Columns returns the column names in order.
func (f Fields) Columns() []string {
	out := make([]string, len(f))
	for i, fd := range f {
		out[i] = fd.Column
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fd := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(fd.Column)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(fd.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Record is one recovered row version.
type Record struct {
	Table    string         `json:"table"`
	RowID    int64          `json:"rowid"`
	Values   Fields         `json:"values"`
	Raw      []record.Value `json:"-"`
	Frame    int            `json:"frame_idx"`
	Page     uint32         `json:"page_num"`
	Category wal.Category   `json:"category"`
	Partial  bool           `json:"partial,omitempty"`
}

// Source returns the provenance label, for example "WAL (Saved)".
func (r Record) Source() string {
	return sourceLabel(r.Category)
}

func sourceLabel(c wal.Category) string {
	return fmt.Sprintf("WAL (%s)", c.Label())
}

// FormatValue renders a decoded value for display: NULL as "NULL", BLOBs as
// "[BLOB: <size>, <kind>]" and reals with six significant digits.
func FormatValue(v record.Value) string {
	switch v.Kind {
	case record.KindNull:
		return "NULL"
	case record.KindBlob:
		return blob.Describe(v.Blob)
	case record.KindReal:
		return strconv.FormatFloat(v.Float, 'g', 6, 64)
	default:
		return v.String()
	}
}

// columnName returns the name of column i, "col<i>" when unknown.
func columnName(cols []string, i int) string {
	if i < len(cols) {
		return cols[i]
	}
	return "col" + strconv.Itoa(i)
}

// tableName resolves a page to its table, "page_<n>" when unmapped.
func (e *Engine) tableName(pgno uint32) string {
	if t, ok := e.pm.Table(pgno); ok {
		return t
	}
	return "page_" + strconv.FormatUint(uint64(pgno), 10)
}

// resolve returns a cell's values with the rowid alias filled in.
func resolve(c btree.Cell, pk int) []record.Value {
	if pk < 0 || pk >= len(c.Values) || !c.Values[pk].IsNull() {
		return c.Values
	}
	vals := make([]record.Value, len(c.Values))
	copy(vals, c.Values)
	vals[pk] = record.Integer(c.RowID)
	return vals
}

// fields renders a cell as an ordered row in display form.
func fields(c btree.Cell, cols []string, pk int) Fields {
	vals := resolve(c, pk)
	out := make(Fields, len(vals))
	for i, v := range vals {
		out[i] = Field{Column: columnName(cols, i), Value: FormatValue(v)}
	}
	return out
}

// leafPage is a table-leaf frame attributed to a table.
type leafPage struct {
	frame wal.Frame
	table string
	cols  []string
	pk    int
	cells []btree.Cell
}

// leaf decodes frame f when it is a table-leaf page. Page 1 is never a
// user-data page.
func (e *Engine) leaf(f wal.Frame) (leafPage, bool) {
	if btree.PageType(f.PageTypeByte) != btree.TypeTableLeaf {
		return leafPage{}, false
	}
	table := e.tableName(f.PageNum)
	return leafPage{
		frame: f,
		table: table,
		cols:  e.pm.Columns(table),
		pk:    e.pm.PKIndex(table),
		cells: btree.ParseLeafCells(e.src.PageData(f.Index)),
	}, true
}

func (e *Engine) frames() []wal.Frame {
	if e.src == nil || !e.src.Valid() {
		return nil
	}
	return e.src.Frames()
}

func isSchemaPage(lp leafPage) bool {
	return lp.frame.PageNum == 1 || schema.IsSystemTable(lp.table)
}
