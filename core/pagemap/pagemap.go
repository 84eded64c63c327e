// Package pagemap attributes database pages to tables.
//
// A Map is built once from three sources, in order: the live schema, the
// B-trees of the main database file, and the copies of pages held in the
// WAL. Tables created inside the WAL are found by decoding its copies of
// page 1. The finished Map is immutable.
package pagemap

import (
	"maps"
	"slices"

	"github.com/FocuswithJustin/walscope/core/schema"
)

// Map is a frozen page to table attribution with the column layout of every
// known table. The zero value is an empty map.
type Map struct {
	pages   map[uint32]string
	columns map[string][]string
	pk      map[string]int
	live    map[string]bool
}

// Table returns the table that owns page pgno.
func (m *Map) Table(pgno uint32) (string, bool) {
	if m == nil {
		return "", false
	}
	t, ok := m.pages[pgno]
	return t, ok
}

// Columns returns the column names of table in storage order, or nil.
func (m *Map) Columns(table string) []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.columns[table])
}

// PKIndex returns the index of the rowid alias column of table, or -1.
func (m *Map) PKIndex(table string) int {
	if m == nil {
		return -1
	}
	if i, ok := m.pk[table]; ok {
		return i
	}
	return -1
}

// Pages returns every mapped page number in ascending order.
func (m *Map) Pages() []uint32 {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.pages))
}

// Len returns the number of mapped pages.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.pages)
}

// Tables returns every table with a known column layout, sorted.
func (m *Map) Tables() []string {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.columns))
}

// LiveTables returns the tables the live connection reported, sorted.
func (m *Map) LiveTables() []string {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.live))
}

// IsLive reports whether the live connection knows table.
func (m *Map) IsLive(table string) bool {
	return m != nil && m.live[table]
}

// WALOnlyTables returns tables known only from the WAL: found in recovered
// schema rows but invisible to the live connection. In practice these were
// created by a transaction that never committed. System tables are left
// out.
func (m *Map) WALOnlyTables() []string {
	if m == nil {
		return nil
	}
	var out []string
	for t := range m.columns {
		if !m.live[t] && !schema.IsSystemTable(t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

// Equal reports whether two maps hold the same attribution and layouts.
func (m *Map) Equal(o *Map) bool {
	if m == nil || o == nil {
		return m == o
	}
	return maps.Equal(m.pages, o.pages) &&
		maps.EqualFunc(m.columns, o.columns, slices.Equal[[]string]) &&
		maps.Equal(m.pk, o.pk) &&
		maps.Equal(m.live, o.live)
}
