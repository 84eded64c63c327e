package recovery

import (
	"cmp"
	"context"
	"encoding/binary"
	"iter"
	"maps"
	"slices"

	"github.com/FocuswithJustin/walscope/core/btree"
	"github.com/FocuswithJustin/walscope/core/schema"
	"github.com/FocuswithJustin/walscope/core/wal"
)

// Filter narrows RecoverAll. Zero values select everything except schema
// rows.
type Filter struct {
	Table         string
	Category      wal.Category // 0 for every category
	IncludeSchema bool
}

func (flt Filter) wants(lp leafPage) bool {
	if flt.Category != 0 && lp.frame.Category != flt.Category {
		return false
	}
	if !flt.IncludeSchema && isSchemaPage(lp) {
		return false
	}
	if flt.Table != "" && lp.table != flt.Table {
		return false
	}
	// A page whose first row looks like sqlite_master is schema even when
	// the page map says otherwise.
	if !flt.IncludeSchema && len(lp.cells) > 0 && schema.IsMasterShaped(lp.cells[0].Values) {
		return false
	}
	return true
}

// RecoverAll yields every row of every table-leaf frame that passes flt, in
// frame order and cell order within a frame.
func (e *Engine) RecoverAll(ctx context.Context, flt Filter) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, f := range e.frames() {
			if ctx.Err() != nil {
				return
			}
			lp, ok := e.leaf(f)
			if !ok || !flt.wants(lp) {
				continue
			}
			for _, c := range lp.cells {
				rec := Record{
					Table:    lp.table,
					RowID:    c.RowID,
					Values:   fields(c, lp.cols, lp.pk),
					Raw:      c.Values,
					Frame:    f.Index,
					Page:     f.PageNum,
					Category: f.Category,
					Partial:  c.Partial,
				}
				if !yield(rec) {
					return
				}
			}
		}
	}
}

// BrowseResult is one page of a table's WAL records.
type BrowseResult struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
	Total   int      `json:"total"`
}

// Browse returns the WAL records of table sorted by rowid, skipping offset
// records and returning at most limit (all when limit <= 0). Versions of
// the same rowid keep frame order.
func (e *Engine) Browse(ctx context.Context, table string, limit, offset int) (BrowseResult, error) {
	all := slices.Collect(e.RecoverAll(ctx, Filter{Table: table}))
	if err := ctx.Err(); err != nil {
		return BrowseResult{}, err
	}
	slices.SortStableFunc(all, func(a, b Record) int { return cmp.Compare(a.RowID, b.RowID) })

	res := BrowseResult{Columns: e.pm.Columns(table), Total: len(all)}
	if len(res.Columns) == 0 && len(all) > 0 {
		res.Columns = all[0].Values.Columns()
	}

	offset = max(offset, 0)
	if offset >= len(all) {
		res.Records = []Record{}
		return res, nil
	}
	end := len(all)
	if limit > 0 && limit < end-offset {
		end = offset + limit
	}
	res.Records = all[offset:end]
	return res, nil
}

// TableStats summarizes the leaf frames of one table. Counts come from the
// page headers, so they include every cell, decodable or not.
type TableStats struct {
	Table       string   `json:"table"`
	Total       int      `json:"total_records"`
	Committed   int      `json:"committed"`
	Uncommitted int      `json:"uncommitted"`
	Old         int      `json:"old"`
	Frames      []int    `json:"frames"`
	Pages       []uint32 `json:"pages"`
	WALOnly     bool     `json:"is_wal_only"`
}

// TableStats returns per-table record counts, sorted by table name. Pages
// that are unmapped, page 1 and system tables are left out.
func (e *Engine) TableStats() []TableStats {
	byTable := make(map[string]*TableStats)
	pages := make(map[string]map[uint32]bool)
	walOnly := make(map[string]bool)
	for _, t := range e.pm.WALOnlyTables() {
		walOnly[t] = true
	}

	for _, f := range e.frames() {
		if btree.PageType(f.PageTypeByte) != btree.TypeTableLeaf || f.PageNum == 1 {
			continue
		}
		table, ok := e.pm.Table(f.PageNum)
		if !ok || schema.IsSystemTable(table) {
			continue
		}
		st, ok := byTable[table]
		if !ok {
			st = &TableStats{Table: table, WALOnly: walOnly[table]}
			byTable[table] = st
			pages[table] = make(map[uint32]bool)
		}
		st.Frames = append(st.Frames, f.Index)
		pages[table][f.PageNum] = true

		data := e.src.PageData(f.Index)
		if len(data) < 5 {
			continue
		}
		n := int(binary.BigEndian.Uint16(data[3:5]))
		st.Total += n
		switch f.Category {
		case wal.Committed:
			st.Committed += n
		case wal.Uncommitted:
			st.Uncommitted += n
		case wal.Old:
			st.Old += n
		}
	}

	out := make([]TableStats, 0, len(byTable))
	for _, name := range slices.Sorted(maps.Keys(byTable)) {
		st := byTable[name]
		st.Pages = slices.Sorted(maps.Keys(pages[name]))
		out = append(out, *st)
	}
	return out
}
