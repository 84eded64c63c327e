package sqlite

import (
	"context"
	"database/sql"
	"os"
	"strings"

	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/core/record"
	"github.com/FocuswithJustin/walscope/core/schema"
)

// Live is a read-only connection to the database under analysis. It sees the
// main file plus whatever the WAL has committed; nothing more.
type Live struct {
	db   *sql.DB
	path string
}

// OpenLive opens path read-only. The WAL must already have been preserved:
// opening a connection may checkpoint it.
func OpenLive(ctx context.Context, path string) (*Live, error) {
	db, err := OpenReadOnly(ctx, path)
	if err != nil {
		return nil, err
	}
	// Force a real open so a bad file fails here and not on the first query.
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewIO("open", path, err)
	}
	return &Live{db: db, path: path}, nil
}

// Close closes the connection pool.
func (l *Live) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// DB returns the underlying pool.
func (l *Live) DB() *sql.DB { return l.db }

// Path returns the database path.
func (l *Live) Path() string { return l.path }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// MasterEntries returns every sqlite_master row, ordered by root page.
func (l *Live) MasterEntries(ctx context.Context) ([]schema.MasterEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT type, name, tbl_name, rootpage, sql FROM sqlite_master ORDER BY rootpage, name`)
	if err != nil {
		return nil, errors.Wrap(err, "read sqlite_master")
	}
	defer rows.Close()

	var entries []schema.MasterEntry
	for rows.Next() {
		var (
			e        schema.MasterEntry
			tblName  sql.NullString
			rootPage sql.NullInt64
			sqlText  sql.NullString
		)
		if err := rows.Scan(&e.Type, &e.Name, &tblName, &rootPage, &sqlText); err != nil {
			return nil, errors.Wrap(err, "scan sqlite_master")
		}
		e.TblName = tblName.String
		if e.TblName == "" {
			e.TblName = e.Name
		}
		if rootPage.Valid && rootPage.Int64 > 0 {
			e.RootPage = uint32(rootPage.Int64)
		}
		e.SQL = sqlText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TableInfo returns PRAGMA table_info for table. An unknown table yields no
// columns and no error, as SQLite itself reports it.
func (l *Live) TableInfo(ctx context.Context, table string) ([]schema.Column, error) {
	rows, err := l.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, errors.Wrapf(err, "table_info %s", table)
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var (
			c     schema.Column
			ctype sql.NullString
			dflt  sql.NullString
		)
		if err := rows.Scan(&c.CID, &c.Name, &ctype, &c.NotNull, &dflt, &c.PK); err != nil {
			return nil, errors.Wrapf(err, "scan table_info %s", table)
		}
		c.Type = ctype.String
		if dflt.Valid {
			s := dflt.String
			c.Default = &s
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (l *Live) names(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Tables returns the names of all tables visible to SQLite, sorted.
func (l *Live) Tables(ctx context.Context) ([]string, error) {
	return l.names(ctx, `SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
}

// Views returns view names, sorted.
func (l *Live) Views(ctx context.Context) ([]string, error) {
	return l.names(ctx, `SELECT name FROM sqlite_master WHERE type='view' ORDER BY name`)
}

// Triggers returns trigger names, sorted.
func (l *Live) Triggers(ctx context.Context) ([]string, error) {
	return l.names(ctx, `SELECT name FROM sqlite_master WHERE type='trigger' ORDER BY name`)
}

// AllIndexes returns explicitly created index names, sorted. Automatic
// indexes (sqlite_autoindex_*) are left out.
func (l *Live) AllIndexes(ctx context.Context) ([]string, error) {
	return l.names(ctx,
		`SELECT name FROM sqlite_master WHERE type='index' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
}

// Index describes one index of a table.
type Index struct {
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Columns []string `json:"columns"`
}

// Indexes returns the indexes of table with their columns.
func (l *Live) Indexes(ctx context.Context, table string) ([]Index, error) {
	rows, err := l.db.QueryContext(ctx, "PRAGMA index_list("+quoteIdent(table)+")")
	if err != nil {
		return nil, errors.Wrapf(err, "index_list %s", table)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}

	// index_list grew columns over SQLite releases; only seq, name and
	// unique are relied on.
	var idxs []Index
	for rows.Next() {
		dest := make([]any, len(cols))
		var name string
		var unique bool
		for i := range dest {
			dest[i] = new(any)
		}
		dest[1] = &name
		dest[2] = &unique
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "scan index_list %s", table)
		}
		idxs = append(idxs, Index{Name: name, Unique: unique})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range idxs {
		ic, err := l.indexColumns(ctx, idxs[i].Name)
		if err != nil {
			return nil, err
		}
		idxs[i].Columns = ic
	}
	return idxs, nil
}

func (l *Live) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, "PRAGMA index_info("+quoteIdent(index)+")")
	if err != nil {
		return nil, errors.Wrapf(err, "index_info %s", index)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, errors.Wrapf(err, "scan index_info %s", index)
		}
		if name.Valid && name.String != "" {
			out = append(out, name.String)
		}
	}
	return out, rows.Err()
}

// UniqueColumns returns the columns covered by a single-column unique index.
func (l *Live) UniqueColumns(ctx context.Context, table string) (map[string]bool, error) {
	idxs, err := l.Indexes(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, idx := range idxs {
		if idx.Unique && len(idx.Columns) == 1 {
			out[idx.Columns[0]] = true
		}
	}
	return out, nil
}

// ForeignKey is one row of PRAGMA foreign_key_list. OnUpdate and OnDelete
// are empty for the default NO ACTION.
type ForeignKey struct {
	ID       int    `json:"id"`
	Seq      int    `json:"seq"`
	Table    string `json:"table"`
	From     string `json:"from"`
	To       string `json:"to"`
	OnUpdate string `json:"on_update,omitempty"`
	OnDelete string `json:"on_delete,omitempty"`
}

// ForeignKeys returns the foreign keys declared on table.
func (l *Live) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := l.db.QueryContext(ctx, "PRAGMA foreign_key_list("+quoteIdent(table)+")")
	if err != nil {
		return nil, errors.Wrapf(err, "foreign_key_list %s", table)
	}
	defer rows.Close()

	var out []ForeignKey
	for rows.Next() {
		var (
			fk                 ForeignKey
			to                 sql.NullString
			onUpdate, onDelete string
			match              sql.NullString
		)
		if err := rows.Scan(&fk.ID, &fk.Seq, &fk.Table, &fk.From, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, errors.Wrapf(err, "scan foreign_key_list %s", table)
		}
		fk.To = to.String
		if onUpdate != "NO ACTION" {
			fk.OnUpdate = onUpdate
		}
		if onDelete != "NO ACTION" {
			fk.OnDelete = onDelete
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

// Count returns the number of rows in table.
func (l *Live) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count %s", table)
	}
	return n, nil
}

// CreateSQL returns the CREATE statement stored for name, or "" if none.
func (l *Live) CreateSQL(ctx context.Context, name string) (string, error) {
	var s sql.NullString
	err := l.db.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE name = ?`, name).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "create sql %s", name)
	}
	return s.String, nil
}

// Row is one live row, keyed by column name. The rowid is carried
// separately.
type Row struct {
	RowID   int64
	Columns []string
	Values  []record.Value
}

// Map returns the row as column name to value.
func (r Row) Map() map[string]record.Value {
	m := make(map[string]record.Value, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

func scanRows(rows *sql.Rows, fn func(Row) error) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	names := cols[1:]
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		row := Row{Columns: names, Values: make([]record.Value, len(names))}
		if v := record.FromAny(raw[0]); v.Kind == record.KindInteger {
			row.RowID = v.Int
		}
		for i := range names {
			row.Values[i] = record.FromAny(raw[i+1])
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Row fetches the live row of table with the given rowid. It reports false
// when no such row exists. WITHOUT ROWID tables always report false.
func (l *Live) Row(ctx context.Context, table string, rowid int64) (Row, bool, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT rowid AS _rid, * FROM "+quoteIdent(table)+" WHERE rowid = ?", rowid)
	if err != nil {
		if strings.Contains(err.Error(), "no such column") {
			return Row{}, false, nil
		}
		return Row{}, false, errors.Wrapf(err, "row %s/%d", table, rowid)
	}
	defer rows.Close()

	var (
		out   Row
		found bool
	)
	err = scanRows(rows, func(r Row) error {
		out, found = r, true
		return nil
	})
	if err != nil {
		return Row{}, false, errors.Wrapf(err, "scan row %s/%d", table, rowid)
	}
	return out, found, nil
}

// Browse returns up to limit rows of table starting at offset, in rowid
// order.
func (l *Live) Browse(ctx context.Context, table string, limit, offset int) ([]Row, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		"SELECT rowid AS _rid, * FROM "+quoteIdent(table)+" ORDER BY rowid LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "browse %s", table)
	}
	defer rows.Close()

	var out []Row
	err = scanRows(rows, func(r Row) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", table)
	}
	return out, nil
}

// Scan calls fn for every row of table in rowid order. It stops at the first
// error fn returns, or when ctx is cancelled.
func (l *Live) Scan(ctx context.Context, table string, fn func(Row) error) error {
	rows, err := l.db.QueryContext(ctx, "SELECT rowid AS _rid, * FROM "+quoteIdent(table))
	if err != nil {
		return errors.Wrapf(err, "scan %s", table)
	}
	defer rows.Close()
	return scanRows(rows, func(r Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(r)
	})
}

// Meta holds the database-level pragmas shown in summaries.
type Meta struct {
	Path          string `json:"path"`
	Size          int64  `json:"size"`
	PageSize      int64  `json:"page_size"`
	PageCount     int64  `json:"page_count"`
	JournalMode   string `json:"journal_mode"`
	Encoding      string `json:"encoding"`
	AutoVacuum    int64  `json:"auto_vacuum"`
	UserVersion   int64  `json:"user_version"`
	FreelistCount int64  `json:"freelist_count"`
}

// Meta reads the database pragmas. Pragmas that fail are left zero.
func (l *Live) Meta(ctx context.Context) Meta {
	m := Meta{Path: l.path}
	if fi, err := os.Stat(l.path); err == nil {
		m.Size = fi.Size()
	}
	ints := []struct {
		pragma string
		dst    *int64
	}{
		{"page_size", &m.PageSize},
		{"page_count", &m.PageCount},
		{"auto_vacuum", &m.AutoVacuum},
		{"user_version", &m.UserVersion},
		{"freelist_count", &m.FreelistCount},
	}
	for _, p := range ints {
		_ = l.db.QueryRowContext(ctx, "PRAGMA "+p.pragma).Scan(p.dst)
	}
	_ = l.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&m.JournalMode)
	_ = l.db.QueryRowContext(ctx, "PRAGMA encoding").Scan(&m.Encoding)
	return m
}

// Integrity runs PRAGMA quick_check(1) and returns its first line, "ok" for
// a sound database.
func (l *Live) Integrity(ctx context.Context) (string, error) {
	var s string
	if err := l.db.QueryRowContext(ctx, "PRAGMA quick_check(1)").Scan(&s); err != nil {
		return "", errors.Wrap(err, "quick_check")
	}
	return s, nil
}
