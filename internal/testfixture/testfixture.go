// Package testfixture builds synthetic database and WAL images for tests.
package testfixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/walscope/core/btree"
	"github.com/FocuswithJustin/walscope/core/record"
	"github.com/FocuswithJustin/walscope/core/schema"
	"github.com/FocuswithJustin/walscope/core/wal"
)

// PageSize is the page size used by the fixtures unless stated otherwise.
const PageSize = 4096

// Header salts of the fixture WALs.
const (
	Salt1 uint32 = 0x11111111
	Salt2 uint32 = 0x22222222
)

// MasterRows converts schema entries into sqlite_master rows.
func MasterRows(entries ...schema.MasterEntry) []btree.Row {
	rows := make([]btree.Row, len(entries))
	for i, e := range entries {
		rows[i] = btree.Row{RowID: int64(i + 1), Values: []record.Value{
			record.Text(e.Type),
			record.Text(e.Name),
			record.Text(e.TblName),
			record.Integer(int64(e.RootPage)),
			record.Text(e.SQL),
		}}
	}
	return rows
}

// Page1 returns a page-1 image: database header plus a sqlite_master leaf.
func Page1(pageSize int, pageCount uint32, entries ...schema.MasterEntry) []byte {
	page := btree.BuildTableLeaf(pageSize, btree.FileHeaderSize, MasterRows(entries...)...)
	btree.WriteFileHeader(page, pageSize, pageCount)
	return page
}

// Leaf returns a table-leaf page holding rows.
func Leaf(rows ...btree.Row) []byte {
	return btree.BuildTableLeaf(PageSize, 0, rows...)
}

// Interior returns a table-interior page with the given children.
func Interior(right uint32, children ...uint32) []byte {
	return btree.BuildTableInterior(PageSize, 0, right, children...)
}

// Row is shorthand for a btree.Row.
func Row(rowid int64, values ...record.Value) btree.Row {
	return btree.Row{RowID: rowid, Values: values}
}

// DB assembles a database file page by page. Missing pages are zero.
type DB struct {
	pageSize int
	pages    map[uint32][]byte
	max      uint32
}

// NewDB starts a database image.
func NewDB(pageSize int) *DB {
	return &DB{pageSize: pageSize, pages: make(map[uint32][]byte)}
}

// Set stores page pgno.
func (d *DB) Set(pgno uint32, page []byte) *DB {
	d.pages[pgno] = page
	d.max = max(d.max, pgno)
	return d
}

// Bytes returns the file image.
func (d *DB) Bytes() []byte {
	out := make([]byte, int(d.max)*d.pageSize)
	for pgno, p := range d.pages {
		copy(out[int(pgno-1)*d.pageSize:], p)
	}
	return out
}

// WriteFile writes the image to dir/name and returns the path.
func (d *DB) WriteFile(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, d.Bytes(), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// NewWAL starts a big-endian WAL image with the fixture salts.
func NewWAL() *wal.Builder {
	return wal.NewBuilder(PageSize, true, Salt1, Salt2)
}

// OpenWAL parses a WAL image in memory.
func OpenWAL(t testing.TB, b *wal.Builder) *wal.Reader {
	t.Helper()
	r, err := wal.FromBytes(b.Bytes())
	if err != nil {
		t.Fatalf("wal.FromBytes() error = %v", err)
	}
	return r
}

// Catalog is an in-memory live schema.
type Catalog struct {
	Entries []schema.MasterEntry
	Info    map[string][]schema.Column
	Err     error
}
