// Package schema decodes SQLite schema information: sqlite_master rows
// recovered from raw pages and the column lists of CREATE TABLE statements.
package schema

import (
	"strings"

	"github.com/FocuswithJustin/walscope/core/record"
)

// System table names
const (
	MasterTable   = "sqlite_master"
	SequenceTable = "sqlite_sequence"
)

// MasterColumns are the columns of sqlite_master in storage order.
var MasterColumns = []string{"type", "name", "tbl_name", "rootpage", "sql"}

// IsSystemTable reports whether name is sqlite_master or sqlite_sequence,
// whose rows are never reported as user data.
func IsSystemTable(name string) bool {
	return name == MasterTable || name == SequenceTable
}

// Column describes one table column, mirroring PRAGMA table_info.
type Column struct {
	CID     int     `json:"cid"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	NotNull bool    `json:"notnull"`
	Default *string `json:"dflt_value"`
	PK      int     `json:"pk"` // 1-based position in the primary key, 0 if none
}

// Table is a table definition recovered from CREATE TABLE text.
type Table struct {
	Schema       string
	Name         string
	Columns      []Column
	WithoutRowID bool
	PKIndex      int // Column stored as the rowid, -1 if none
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// RowIDAlias returns the index of the INTEGER PRIMARY KEY column, whose
// value is stored as the rowid and appears as NULL in the record. The table
// must have exactly one primary key column, declared INTEGER. Returns -1
// otherwise.
func RowIDAlias(cols []Column) int {
	idx := -1
	for i, c := range cols {
		if c.PK == 0 {
			continue
		}
		if idx >= 0 {
			return -1
		}
		idx = i
	}
	if idx >= 0 && !strings.EqualFold(strings.TrimSpace(cols[idx].Type), "INTEGER") {
		return -1
	}
	return idx
}

// MasterEntry is one row of sqlite_master.
type MasterEntry struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	TblName  string `json:"tbl_name"`
	RootPage uint32 `json:"rootpage"`
	SQL      string `json:"sql"`
}

// IsTable reports whether the entry describes a table.
func (e MasterEntry) IsTable() bool { return e.Type == "table" }

// Owner returns the table a root page belongs to: the table itself, or the
// table an index, view or trigger is attached to.
func (e MasterEntry) Owner() string {
	if e.Type == "table" || e.TblName == "" {
		return e.Name
	}
	return e.TblName
}

// MasterEntryFromValues converts the values of a recovered sqlite_master
// cell. It reports false when fewer than five values are present or the
// name is empty.
func MasterEntryFromValues(vals []record.Value) (MasterEntry, bool) {
	if len(vals) < len(MasterColumns) {
		return MasterEntry{}, false
	}
	e := MasterEntry{
		Type:    textOf(vals[0]),
		Name:    textOf(vals[1]),
		TblName: textOf(vals[2]),
		SQL:     textOf(vals[4]),
	}
	if e.TblName == "" {
		e.TblName = e.Name
	}
	switch v := vals[3]; v.Kind {
	case record.KindInteger:
		if v.Int > 0 && v.Int <= int64(^uint32(0)) {
			e.RootPage = uint32(v.Int)
		}
	case record.KindReal:
		if v.Float > 0 && v.Float <= float64(^uint32(0)) {
			e.RootPage = uint32(v.Float)
		}
	}
	return e, e.Name != ""
}

func textOf(v record.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}

var schemaObjectTypes = map[string]bool{"table": true, "index": true, "view": true, "trigger": true}

// IsMasterShaped reports whether the values of a page's first cell look like
// a sqlite_master row: at least five values, a schema object type first and
// a CREATE statement fifth.
//
// This is a heuristic. A user table with five columns laid out the same way
// is indistinguishable.
func IsMasterShaped(vals []record.Value) bool {
	if len(vals) < 5 {
		return false
	}
	if vals[0].Kind != record.KindText || !schemaObjectTypes[vals[0].Text] {
		return false
	}
	if vals[4].Kind != record.KindText {
		return false
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(vals[4].Text)), "CREATE")
}
