package pagemap

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/FocuswithJustin/walscope/core/btree"
	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/core/schema"
	"github.com/FocuswithJustin/walscope/core/wal"
	"github.com/FocuswithJustin/walscope/internal/logging"
)

// DefaultMaxDepth bounds B-tree traversal.
const DefaultMaxDepth = 20

// Catalog is the live view of the schema, normally a read-only connection.
type Catalog interface {
	MasterEntries(ctx context.Context) ([]schema.MasterEntry, error)
	TableInfo(ctx context.Context, table string) ([]schema.Column, error)
}

// FrameSource is a parsed WAL.
type FrameSource interface {
	Valid() bool
	Frames() []wal.Frame
	PageData(i int) []byte
	PageSize() int
}

// Options configure Build. Every source is optional.
type Options struct {
	Catalog  Catalog
	DBPath   string
	WAL      FrameSource
	MaxDepth int
	Logger   *slog.Logger
}

// mapper owns the maps while they are being filled.
type mapper struct {
	pages    map[uint32]string
	columns  map[string][]string
	pk       map[string]int
	live     map[string]bool
	roots    map[uint32]string
	maxDepth int
	log      *slog.Logger
}

// Build constructs the page map. Failures in any one source are logged and
// the remaining sources still contribute; only cancellation is returned, in
// which case the map built so far is returned with it.
func Build(ctx context.Context, opts Options) (*Map, error) {
	m := &mapper{
		pages:    make(map[uint32]string),
		columns:  make(map[string][]string),
		pk:       make(map[string]int),
		live:     make(map[string]bool),
		roots:    make(map[uint32]string),
		maxDepth: opts.MaxDepth,
		log:      logging.Or(opts.Logger),
	}
	if m.maxDepth <= 0 {
		m.maxDepth = DefaultMaxDepth
	}

	var src FrameSource
	if opts.WAL != nil && opts.WAL.Valid() {
		src = opts.WAL
	}

	steps := []func(context.Context) error{
		func(ctx context.Context) error { return m.seedCatalog(ctx, opts.Catalog) },
		func(ctx context.Context) error { return m.traverseFile(ctx, opts.DBPath, src) },
		func(ctx context.Context) error {
			if src == nil {
				return nil
			}
			return m.scanWAL(ctx, src)
		},
		func(ctx context.Context) error {
			if src == nil {
				return nil
			}
			m.sweepInterior(src)
			return nil
		},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return m.freeze(), err
		}
		if err := step(ctx); err != nil {
			return m.freeze(), err
		}
	}
	return m.freeze(), nil
}

func (m *mapper) freeze() *Map {
	return &Map{pages: m.pages, columns: m.columns, pk: m.pk, live: m.live}
}

// seedCatalog maps the root pages the live schema knows about and records
// table layouts.
func (m *mapper) seedCatalog(ctx context.Context, cat Catalog) error {
	if cat != nil {
		entries, err := cat.MasterEntries(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn("live schema unavailable", "error", err)
		}
		for _, e := range entries {
			if e.IsTable() {
				m.live[e.Name] = true
			}
			if e.RootPage == 0 {
				continue
			}
			owner := e.Owner()
			m.pages[e.RootPage] = owner
			m.roots[e.RootPage] = owner
			if !e.IsTable() {
				continue
			}
			cols, err := cat.TableInfo(ctx, e.Name)
			if err != nil {
				m.log.Debug("table_info failed", "table", e.Name, "error", err)
				continue
			}
			m.setLayout(e.Name, cols, withoutRowID(e.SQL))
		}
	}

	m.pages[1] = schema.MasterTable
	m.roots[1] = schema.MasterTable
	m.columns[schema.MasterTable] = slices.Clone(schema.MasterColumns)
	return nil
}

func withoutRowID(sql string) bool {
	if sql == "" {
		return false
	}
	t, err := schema.ParseCreateTable(sql)
	return err == nil && t.WithoutRowID
}

func (m *mapper) setLayout(table string, cols []schema.Column, noRowID bool) {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	m.columns[table] = names
	if noRowID {
		return
	}
	if i := schema.RowIDAlias(cols); i >= 0 {
		m.pk[table] = i
	}
}

// pageSource returns the page numbered pgno. A nil page with a nil error
// means the source does not hold that page.
type pageSource func(pgno uint32) ([]byte, error)

// walk maps every page reachable from root to table. Pages already in
// visited are not read again, which also breaks cycles.
func (m *mapper) walk(read pageSource, root uint32, table string, visited map[uint32]bool) {
	type item struct {
		pgno  uint32
		depth int
	}
	stack := []item{{root, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[it.pgno] {
			continue
		}
		visited[it.pgno] = true
		m.pages[it.pgno] = table

		page, err := read(it.pgno)
		if err != nil {
			logging.PageSkipped(m.log, it.pgno, err, "table", table)
			continue
		}
		if page == nil {
			continue
		}
		kids := btree.ChildPages(page, it.pgno)
		for i := len(kids) - 1; i >= 0; i-- {
			kid := kids[i]
			if visited[kid] {
				continue
			}
			m.pages[kid] = table
			if it.depth >= m.maxDepth {
				logging.PageSkipped(m.log, kid, errors.NewCorruptPage(kid, "depth limit reached"), "table", table)
				continue
			}
			stack = append(stack, item{kid, it.depth + 1})
		}
	}
}

// traverseFile walks the B-trees of the main database file from every known
// root. The page size comes from the file header, or from the WAL when the
// header is unusable.
func (m *mapper) traverseFile(ctx context.Context, path string, src FrameSource) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		m.log.Debug("database file unavailable", "path", path, "error", err)
		return nil
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil
	}

	pageSize := 0
	hdr := make([]byte, btree.FileHeaderSize)
	if _, err := io.ReadFull(f, hdr); err == nil {
		if fh, err := btree.ParseFileHeader(hdr); err == nil {
			pageSize = fh.PageSize
		}
	}
	if pageSize == 0 && src != nil {
		pageSize = src.PageSize()
	}
	if pageSize == 0 {
		m.log.Debug("page size unknown, skipping file traversal", "path", path)
		return nil
	}
	pageCount := uint32(fi.Size() / int64(pageSize))

	read := func(pgno uint32) ([]byte, error) {
		if pgno == 0 || pgno > pageCount {
			return nil, errors.NewCorruptPage(pgno, "outside database file")
		}
		buf := make([]byte, pageSize)
		if _, err := f.ReadAt(buf, int64(pgno-1)*int64(pageSize)); err != nil {
			return nil, errors.NewIO("read page", path, err)
		}
		return buf, nil
	}

	visited := make(map[uint32]bool)
	for _, root := range slices.Sorted(maps.Keys(m.roots)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.walk(read, root, m.roots[root], visited)
	}
	return nil
}

// scanWAL decodes the WAL copies of sqlite_master to find tables the live
// connection cannot see, then walks their WAL-resident B-trees.
func (m *mapper) scanWAL(ctx context.Context, src FrameSource) error {
	frames := src.Frames()

	var cells []btree.Cell
	for _, f := range frames {
		if f.PageNum != 1 {
			continue
		}
		page := src.PageData(f.Index)
		if len(page) < btree.FileHeaderSize+btree.HeaderSizeLeaf {
			continue
		}
		switch btree.PageType(page[btree.FileHeaderSize]) {
		case btree.TypeTableLeaf:
			cells = append(cells, btree.ParsePage1Cells(page)...)
		case btree.TypeTableInterior:
			kids := btree.ChildPages(page, 1)
			for _, k := range kids {
				m.pages[k] = schema.MasterTable
			}
			for _, cf := range frames {
				if cf.PageTypeByte == byte(btree.TypeTableLeaf) && slices.Contains(kids, cf.PageNum) {
					cells = append(cells, btree.ParseLeafCells(src.PageData(cf.Index))...)
				}
			}
		}
	}

	created := make(map[uint32]string)
	for _, c := range cells {
		e, ok := schema.MasterEntryFromValues(c.Values)
		if !ok || e.RootPage == 0 {
			continue
		}
		if !e.IsTable() {
			m.pages[e.RootPage] = e.Owner()
			continue
		}
		m.pages[e.RootPage] = e.Name
		if _, known := m.columns[e.Name]; !known && e.SQL != "" {
			t, err := schema.ParseCreateTable(e.SQL)
			if err != nil {
				m.log.Debug("recovered CREATE TABLE not parsed", "table", e.Name, "error", err)
			} else {
				m.columns[e.Name] = t.ColumnNames()
				if t.PKIndex >= 0 {
					m.pk[e.Name] = t.PKIndex
				}
			}
		}
		if _, seen := created[e.RootPage]; !seen {
			created[e.RootPage] = e.Name
		}
	}

	latest := make(map[uint32]int)
	for _, f := range frames {
		latest[f.PageNum] = f.Index
	}
	read := func(pgno uint32) ([]byte, error) {
		i, ok := latest[pgno]
		if !ok {
			return nil, nil
		}
		return src.PageData(i), nil
	}

	visited := make(map[uint32]bool)
	for _, root := range slices.Sorted(maps.Keys(created)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.walk(read, root, created[root], visited)
	}
	return nil
}

// sweepInterior maps the unmapped children of every mapped interior page in
// the WAL, repeating until nothing changes. This catches pages allocated by
// splits that only ever existed in the WAL.
func (m *mapper) sweepInterior(src FrameSource) {
	for changed := true; changed; {
		changed = false
		for _, f := range src.Frames() {
			if !btree.PageType(f.PageTypeByte).IsInterior() {
				continue
			}
			table, ok := m.pages[f.PageNum]
			if !ok {
				continue
			}
			for _, kid := range btree.ChildPages(src.PageData(f.Index), f.PageNum) {
				if _, mapped := m.pages[kid]; !mapped {
					m.pages[kid] = table
					changed = true
				}
			}
		}
	}
}
