package recovery

import (
	"context"
	"fmt"
	"slices"

	"github.com/FocuswithJustin/walscope/core/cache"
	"github.com/FocuswithJustin/walscope/core/pagemap"
	"github.com/FocuswithJustin/walscope/core/sqlite"
)

// DiffStatus compares a recovered record with the live database.
type DiffStatus uint8

const (
	// Same means the live row holds identical values.
	Same DiffStatus = iota + 1
	// Different means the live row exists but some columns differ.
	Different
	// NotInDB means the live table has no row with this rowid.
	NotInDB
	// WALTable means the whole table exists only in the WAL.
	WALTable
)

func (s DiffStatus) String() string {
	switch s {
	case Same:
		return "same"
	case Different:
		return "different"
	case NotInDB:
		return "not_in_db"
	case WALTable:
		return "wal_table"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s DiffStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Diff is the outcome of comparing one record.
type Diff struct {
	Status  DiffStatus `json:"status"`
	Columns []string   `json:"columns,omitempty"` // differing columns
}

// RowLookup fetches live rows by rowid.
type RowLookup interface {
	Row(ctx context.Context, table string, rowid int64) (sqlite.Row, bool, error)
}

type rowKey struct {
	table string
	rowid int64
}

type cachedRow struct {
	row   sqlite.Row
	found bool
}

// DiffCacheSize bounds how many live rows a Differ keeps.
const DiffCacheSize = 4096

// Differ compares records with the live database, caching the most recently
// read live rows.
type Differ struct {
	lookup RowLookup
	pm     *pagemap.Map
	rows   cache.Cache[rowKey, cachedRow]
}

// NewDiffer returns a Differ. A nil lookup treats every table as absent.
func NewDiffer(lookup RowLookup, pm *pagemap.Map) *Differ {
	return &Differ{
		lookup: lookup,
		pm:     pm,
		rows:   cache.NewLRU(cache.Config[rowKey, cachedRow]{MaxSize: DiffCacheSize}),
	}
}

// CacheStats reports how often live rows were served from the cache.
func (d *Differ) CacheStats() cache.Stats { return d.rows.Stats() }

// Diff compares rec with the live row of the same table and rowid. Both
// sides are rendered with FormatValue, so NULL compares as "NULL".
func (d *Differ) Diff(ctx context.Context, rec Record) (Diff, error) {
	if d.lookup == nil || !d.pm.IsLive(rec.Table) {
		status := NotInDB
		if slices.Contains(d.pm.WALOnlyTables(), rec.Table) {
			status = WALTable
		}
		return Diff{Status: status, Columns: rec.Values.Columns()}, nil
	}

	key := rowKey{rec.Table, rec.RowID}
	cr, ok := d.rows.Get(key)
	if !ok {
		row, found, err := d.lookup.Row(ctx, rec.Table, rec.RowID)
		if err != nil {
			return Diff{}, fmt.Errorf("live row %s/%d: %w", rec.Table, rec.RowID, err)
		}
		cr = cachedRow{row: row, found: found}
		d.rows.Put(key, cr)
	}
	if !cr.found {
		return Diff{Status: NotInDB, Columns: rec.Values.Columns()}, nil
	}

	live := cr.row.Map()
	var differ []string
	for _, f := range rec.Values {
		v, ok := live[f.Column]
		if !ok || FormatValue(v) != f.Value {
			differ = append(differ, f.Column)
		}
	}
	if len(differ) > 0 {
		return Diff{Status: Different, Columns: differ}, nil
	}
	return Diff{Status: Same}, nil
}
