package analyzer

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/core/record"
	"github.com/FocuswithJustin/walscope/core/recovery"
	"github.com/FocuswithJustin/walscope/core/schema"
	"github.com/FocuswithJustin/walscope/core/sqlite"
	"github.com/FocuswithJustin/walscope/core/wal"
	"github.com/FocuswithJustin/walscope/internal/testfixture"
)

var (
	usersEntry = schema.MasterEntry{Type: "table", Name: "users", TblName: "users", RootPage: 2,
		SQL: `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`}
	secretEntry = schema.MasterEntry{Type: "table", Name: "secret", TblName: "secret", RootPage: 3,
		SQL: `CREATE TABLE secret (id INTEGER PRIMARY KEY, note TEXT)`}
)

// writeCase writes a database holding users and a WAL that adds table
// secret and edits users.
func writeCase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db := testfixture.NewDB(testfixture.PageSize).
		Set(1, testfixture.Page1(testfixture.PageSize, 2, usersEntry)).
		Set(2, testfixture.Leaf(testfixture.Row(1, record.Null(), record.Text("alice"))))
	path := db.WriteFile(t, dir, "case.db")

	b := testfixture.NewWAL().
		Add(1, 0, testfixture.Page1(testfixture.PageSize, 3, usersEntry, secretEntry)).
		Add(3, 0, testfixture.Leaf(testfixture.Row(1, record.Null(), record.Text("launch codes")))).
		Add(2, 3, testfixture.Leaf(testfixture.Row(1, record.Null(), record.Text("alice-renamed"))))
	if err := b.WriteFile(path + "-wal"); err != nil {
		t.Fatalf("write WAL: %v", err)
	}
	return path
}

func openCase(t *testing.T, opts Options) *Analyzer {
	t.Helper()
	a, err := Open(context.Background(), writeCase(t), opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenPreservesAndRecovers(t *testing.T) {
	backups := filepath.Join(t.TempDir(), "evidence")
	a := openCase(t, Options{BackupDir: backups, Tool: "walscope test"})

	p := a.Preservation()
	if p == nil {
		t.Fatal("Preservation() = nil")
	}
	if filepath.Dir(p.Backup) != backups {
		t.Errorf("backup = %s, want it under %s", p.Backup, backups)
	}
	if err := p.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	if !a.HasWAL() {
		t.Fatal("HasWAL() = false")
	}
	s := a.Summary()
	if s.TotalFrames != 3 || s.Committed != 1 || s.Uncommitted != 2 {
		t.Errorf("Summary() = %+v", s)
	}
	if g := a.TransactionGroups(); len(g) != 1 || !g[0].Committed {
		t.Errorf("TransactionGroups() = %+v", g)
	}
	if !slices.Contains(a.WALOnlyTables(), "secret") {
		t.Errorf("WALOnlyTables() = %v, want secret", a.WALOnlyTables())
	}
	if got := a.Columns("secret"); !slices.Equal(got, []string{"id", "note"}) {
		t.Errorf("Columns(secret) = %v", got)
	}
	if a.PKIndex("secret") != 0 {
		t.Errorf("PKIndex(secret) = %d", a.PKIndex("secret"))
	}

	seq, err := a.Search(context.Background(), recovery.Query{Term: "codes"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	hits := slices.Collect(seq)
	if len(hits) != 1 || hits[0].Table != "secret" || hits[0].Source != "WAL (Unsaved)" {
		t.Errorf("Search(codes) = %+v", hits)
	}

	recs := slices.Collect(a.RecoverAll(context.Background(), recovery.Filter{Table: "users"}))
	if len(recs) != 1 || recs[0].Category != wal.Committed {
		t.Fatalf("RecoverAll(users) = %+v", recs)
	}
	if got, _ := recs[0].Values.Get("name"); got != "alice-renamed" {
		t.Errorf("users name = %q", got)
	}

	res, err := a.Browse(context.Background(), "secret", 10, 0)
	if err != nil || res.Total != 1 {
		t.Errorf("Browse(secret) = %+v, %v", res, err)
	}
	stats := a.TableStats()
	if len(stats) != 2 {
		t.Errorf("TableStats() = %+v, want secret and users", stats)
	}
	if len(a.PageData(0)) != testfixture.PageSize || a.PageData(99) != nil {
		t.Error("PageData() returned the wrong sizes")
	}
	if a.PageMap().Len() == 0 {
		t.Error("PageMap() is empty")
	}

	d, err := a.Diff(context.Background(), hits2record(hits[0]))
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if d.Status != recovery.WALTable && d.Status != recovery.NotInDB {
		t.Errorf("Diff(secret row) = %v, want wal_table or not_in_db", d.Status)
	}
}

func hits2record(h recovery.Hit) recovery.Record {
	return recovery.Record{Table: h.Table, RowID: h.RowID, Values: h.Row, Frame: h.Frame, Page: h.Page, Category: h.Category}
}

func TestOpenNoPreserve(t *testing.T) {
	a := openCase(t, Options{NoPreserve: true})
	if a.Preservation() != nil {
		t.Error("Preservation() should be nil with NoPreserve")
	}
	if _, err := os.Stat(a.WALPath() + ".bak"); !os.IsNotExist(err) {
		t.Errorf("backup should not exist: %v", err)
	}
	if !a.HasWAL() {
		t.Error("HasWAL() = false")
	}
}

func TestOpenWithoutWAL(t *testing.T) {
	dir := t.TempDir()
	path := testfixture.NewDB(testfixture.PageSize).
		Set(1, testfixture.Page1(testfixture.PageSize, 1)).
		WriteFile(t, dir, "plain.db")

	a, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()
	if a.HasWAL() || a.Preservation() != nil || len(a.Frames()) != 0 {
		t.Error("an absent WAL should leave the analyzer empty")
	}
}

func TestOpenIgnoresNonWAL(t *testing.T) {
	dir := t.TempDir()
	path := testfixture.NewDB(testfixture.PageSize).
		Set(1, testfixture.Page1(testfixture.PageSize, 1)).
		WriteFile(t, dir, "plain.db")
	junk := make([]byte, 64)
	copy(junk, "definitely not a WAL header")
	if err := os.WriteFile(path+"-wal", junk, 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := Open(context.Background(), path, Options{NoPreserve: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()
	if a.HasWAL() {
		t.Error("HasWAL() = true for a non-WAL file")
	}

	_, err = OpenWAL(context.Background(), path+"-wal", "", Options{NoPreserve: true})
	if !errors.Is(err, errors.ErrInvalidMagic) {
		t.Errorf("OpenWAL() error = %v, want ErrInvalidMagic", err)
	}
}

func TestOpenWALAlone(t *testing.T) {
	path := writeCase(t)
	a, err := OpenWAL(context.Background(), path+"-wal", "", Options{NoPreserve: true})
	if err != nil {
		t.Fatalf("OpenWAL() error = %v", err)
	}
	defer a.Close()
	if a.Live() != nil {
		t.Error("Live() should be nil without a database")
	}
	got := a.WALOnlyTables()
	if !slices.Equal(got, []string{"secret", "users"}) {
		t.Errorf("WALOnlyTables() = %v, want [secret users]", got)
	}
	seq, err := a.SearchLive(context.Background(), recovery.Query{Term: "x"})
	if err != nil || len(slices.Collect(seq)) != 0 {
		t.Errorf("SearchLive() without a database = %v", err)
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.db"), Options{})
	var ioErr *errors.IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("Open(missing) error = %v, want IOError", err)
	}
}

func TestOpenLiveDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.db")
	db, err := sql.Open(sqlite.DriverName(), path)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{
		`CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO people (name) VALUES ('Grace'), ('Linus')`,
	} {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	db.Close()

	a, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()
	if a.Live() == nil {
		t.Fatal("Live() = nil")
	}
	if got := a.PageMap().LiveTables(); !slices.Equal(got, []string{"people"}) {
		t.Errorf("LiveTables() = %v", got)
	}

	seq, err := a.SearchLive(context.Background(), recovery.Query{Term: "lin"})
	if err != nil {
		t.Fatalf("SearchLive() error = %v", err)
	}
	hits := slices.Collect(seq)
	if len(hits) != 1 || hits[0].RowID != 2 || hits[0].Source != "DB" {
		t.Errorf("SearchLive(lin) = %+v", hits)
	}

	rec := recovery.Record{Table: "people", RowID: 1, Values: recovery.Fields{{Column: "id", Value: "1"}, {Column: "name", Value: "Grace"}}}
	d, err := a.Diff(context.Background(), rec)
	if err != nil || d.Status != recovery.Same {
		t.Errorf("Diff(same row) = %+v, %v", d, err)
	}
	rec.Values[1].Value = "Ada"
	if d, _ := a.Diff(context.Background(), rec); d.Status != recovery.Different {
		t.Errorf("Diff(changed row) = %v, want different", d.Status)
	}
	rec.RowID = 99
	if d, _ := a.Diff(context.Background(), rec); d.Status != recovery.NotInDB {
		t.Errorf("Diff(missing row) = %v, want not_in_db", d.Status)
	}
}
