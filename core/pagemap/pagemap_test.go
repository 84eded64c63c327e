package pagemap

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/FocuswithJustin/walscope/core/record"
	"github.com/FocuswithJustin/walscope/core/schema"
	"github.com/FocuswithJustin/walscope/internal/testfixture"
)

const (
	usersSQL  = `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`
	secretSQL = `CREATE TABLE secret (id INTEGER PRIMARY KEY, note TEXT)`
)

var (
	usersEntry = schema.MasterEntry{Type: "table", Name: "users", TblName: "users", RootPage: 2, SQL: usersSQL}
	indexEntry = schema.MasterEntry{Type: "index", Name: "idx_users_name", TblName: "users", RootPage: 5,
		SQL: `CREATE INDEX idx_users_name ON users(name)`}
	secretEntry = schema.MasterEntry{Type: "table", Name: "secret", TblName: "secret", RootPage: 6, SQL: secretSQL}
)

func liveCatalog() *testfixture.Catalog {
	return &testfixture.Catalog{
		Entries: []schema.MasterEntry{usersEntry, indexEntry},
		Info: map[string][]schema.Column{
			"users": testfixture.Columns("id", [2]string{"id", "INTEGER"}, [2]string{"name", "TEXT"}),
		},
	}
}

// mainFile has users rooted at interior page 2 with leaves 3 and 4, and an
// index rooted at page 5.
func mainFile(t *testing.T) string {
	t.Helper()
	db := testfixture.NewDB(testfixture.PageSize).
		Set(1, testfixture.Page1(testfixture.PageSize, 5, usersEntry, indexEntry)).
		Set(2, testfixture.Interior(4, 3)).
		Set(3, testfixture.Leaf(testfixture.Row(1, record.Null(), record.Text("alice")))).
		Set(4, testfixture.Leaf(testfixture.Row(2, record.Null(), record.Text("bob")))).
		Set(5, make([]byte, testfixture.PageSize))
	return db.WriteFile(t, t.TempDir(), "main.db")
}

// TestBuildFullPipeline adds an uncommitted transaction creating table
// secret, rooted at WAL-only interior page 6 with leaves 7 and 8.
func TestBuildFullPipeline(t *testing.T) {
	b := testfixture.NewWAL().
		Add(1, 0, testfixture.Page1(testfixture.PageSize, 8, usersEntry, indexEntry, secretEntry)).
		Add(6, 0, testfixture.Interior(8, 7)).
		Add(7, 0, testfixture.Leaf(testfixture.Row(1, record.Null(), record.Text("hidden")))).
		Add(8, 0, testfixture.Leaf(testfixture.Row(2, record.Null(), record.Text("deeper"))))
	r := testfixture.OpenWAL(t, b)

	m, err := Build(context.Background(), Options{
		Catalog: liveCatalog(),
		DBPath:  mainFile(t),
		WAL:     r,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	wantPages := map[uint32]string{
		1: "sqlite_master",
		2: "users",
		3: "users",
		4: "users",
		5: "users",
		6: "secret",
		7: "secret",
		8: "secret",
	}
	for pg, want := range wantPages {
		if got, ok := m.Table(pg); !ok || got != want {
			t.Errorf("Table(%d) = %q, %v, want %q", pg, got, ok, want)
		}
	}
	if m.Len() != len(wantPages) {
		t.Errorf("Len() = %d, want %d (pages %v)", m.Len(), len(wantPages), m.Pages())
	}

	if got := m.Columns("secret"); !slices.Equal(got, []string{"id", "note"}) {
		t.Errorf("Columns(secret) = %v", got)
	}
	if got := m.Columns("sqlite_master"); !slices.Equal(got, schema.MasterColumns) {
		t.Errorf("Columns(sqlite_master) = %v", got)
	}
	if got := m.PKIndex("secret"); got != 0 {
		t.Errorf("PKIndex(secret) = %d, want 0", got)
	}
	if got := m.PKIndex("users"); got != 0 {
		t.Errorf("PKIndex(users) = %d, want 0", got)
	}
	if got := m.PKIndex("nope"); got != -1 {
		t.Errorf("PKIndex(nope) = %d, want -1", got)
	}
	if got := m.WALOnlyTables(); !slices.Equal(got, []string{"secret"}) {
		t.Errorf("WALOnlyTables() = %v, want [secret]", got)
	}
	if got := m.LiveTables(); !slices.Equal(got, []string{"users"}) {
		t.Errorf("LiveTables() = %v, want [users]", got)
	}
	if got := m.Tables(); !slices.Equal(got, []string{"secret", "sqlite_master", "users"}) {
		t.Errorf("Tables() = %v", got)
	}
}

func TestBuildIdempotent(t *testing.T) {
	path := mainFile(t)
	b := testfixture.NewWAL().
		Add(1, 1, testfixture.Page1(testfixture.PageSize, 8, usersEntry, indexEntry, secretEntry)).
		Add(6, 0, testfixture.Interior(8, 7))
	r := testfixture.OpenWAL(t, b)
	opts := Options{Catalog: liveCatalog(), DBPath: path, WAL: r}

	first, err := Build(context.Background(), opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := Build(context.Background(), opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("rebuild differs: %v vs %v", first.Pages(), second.Pages())
	}
}

func TestBuildWithoutWAL(t *testing.T) {
	m, err := Build(context.Background(), Options{Catalog: liveCatalog(), DBPath: mainFile(t)})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := m.Pages(); !slices.Equal(got, []uint32{1, 2, 3, 4, 5}) {
		t.Errorf("Pages() = %v, want [1 2 3 4 5]", got)
	}
	if got := m.WALOnlyTables(); len(got) != 0 {
		t.Errorf("WALOnlyTables() = %v, want none", got)
	}
}

func TestBuildCatalogFailure(t *testing.T) {
	cat := &testfixture.Catalog{Err: errors.New("locked")}
	m, err := Build(context.Background(), Options{Catalog: cat, DBPath: mainFile(t)})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got, _ := m.Table(1); got != "sqlite_master" {
		t.Errorf("Table(1) = %q, want sqlite_master", got)
	}
	if len(m.LiveTables()) != 0 {
		t.Errorf("LiveTables() = %v, want none", m.LiveTables())
	}
}

func TestSweepReachesFixpoint(t *testing.T) {
	// Page 9 is listed before its parent, so one pass over the frames
	// cannot map page 10.
	b := testfixture.NewWAL().
		Add(9, 0, testfixture.Interior(10)).
		Add(2, 1, testfixture.Interior(9, 3, 4))
	r := testfixture.OpenWAL(t, b)

	m, err := Build(context.Background(), Options{Catalog: liveCatalog(), WAL: r})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, pg := range []uint32{3, 4, 9, 10} {
		if got, _ := m.Table(pg); got != "users" {
			t.Errorf("Table(%d) = %q, want users", pg, got)
		}
	}
}

func TestTraversalCycleAndDepth(t *testing.T) {
	// 2 -> 3 -> 2 is a cycle; 3 also points past the end of the file.
	db := testfixture.NewDB(testfixture.PageSize).
		Set(1, testfixture.Page1(testfixture.PageSize, 3, usersEntry)).
		Set(2, testfixture.Interior(3)).
		Set(3, testfixture.Interior(2, 99))
	path := db.WriteFile(t, t.TempDir(), "cycle.db")

	cat := &testfixture.Catalog{Entries: []schema.MasterEntry{usersEntry}}
	m, err := Build(context.Background(), Options{Catalog: cat, DBPath: path})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got, _ := m.Table(3); got != "users" {
		t.Errorf("Table(3) = %q, want users", got)
	}
	if got, _ := m.Table(99); got != "users" {
		t.Errorf("Table(99) = %q, want users", got)
	}

	// A chain deeper than the bound stops mapping one level past it.
	chain := testfixture.NewDB(testfixture.PageSize).
		Set(1, testfixture.Page1(testfixture.PageSize, 6, usersEntry))
	for pg := uint32(2); pg <= 6; pg++ {
		chain.Set(pg, testfixture.Interior(pg+1))
	}
	path = chain.WriteFile(t, t.TempDir(), "chain.db")
	m, err = Build(context.Background(), Options{Catalog: cat, DBPath: path, MaxDepth: 2})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, ok := m.Table(5); !ok {
		t.Error("page 5 (depth 3) should be mapped")
	}
	if _, ok := m.Table(6); ok {
		t.Error("page 6 (depth 4) should not be mapped with MaxDepth 2")
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, err := Build(ctx, Options{Catalog: liveCatalog()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Build() error = %v, want context.Canceled", err)
	}
	if m == nil {
		t.Error("Build() should return the partial map")
	}
}

func TestNilMap(t *testing.T) {
	var m *Map
	if _, ok := m.Table(1); ok {
		t.Error("nil Map should be empty")
	}
	if m.PKIndex("x") != -1 || m.Len() != 0 || m.Columns("x") != nil {
		t.Error("nil Map accessors should return zero values")
	}
}
