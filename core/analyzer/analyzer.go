// Package analyzer is the entry point for examining a database and its WAL.
//
// Open preserves the WAL, parses it, connects read-only to the database and
// builds the page map, in that order. Everything after Open reads the
// immutable state it produced.
package analyzer

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"sync"

	"github.com/FocuswithJustin/walscope/core/cache"
	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/core/evidence"
	"github.com/FocuswithJustin/walscope/core/pagemap"
	"github.com/FocuswithJustin/walscope/core/recovery"
	"github.com/FocuswithJustin/walscope/core/sqlite"
	"github.com/FocuswithJustin/walscope/core/wal"
	"github.com/FocuswithJustin/walscope/internal/logging"
)

// Options configure Open and OpenWAL.
type Options struct {
	// BackupDir receives the WAL backup instead of the database directory.
	BackupDir string
	// NoPreserve skips the backup and reads the WAL in place.
	NoPreserve bool
	// MaxDepth bounds B-tree traversal; 0 uses pagemap.DefaultMaxDepth.
	MaxDepth int
	// Tool is recorded in the evidence manifest.
	Tool   string
	Logger *slog.Logger
}

// Analyzer holds one opened database and WAL.
type Analyzer struct {
	dbPath  string
	walPath string

	wal          *wal.Reader
	live         *sqlite.Live
	pm           *pagemap.Map
	engine       *recovery.Engine
	differ       *recovery.Differ
	preservation *evidence.Preservation
	log          *slog.Logger

	diffMu sync.Mutex
}

// Open examines dbPath and the WAL next to it. A missing WAL, or one whose
// header is not a WAL header, leaves the analyzer with an empty WAL.
func Open(ctx context.Context, dbPath string, opts Options) (*Analyzer, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, errors.NewIO("stat", dbPath, err)
	}
	return open(ctx, evidence.WALPath(dbPath), dbPath, false, opts)
}

// OpenWAL examines an explicit WAL file. dbPath may be empty, in which case
// tables are only known from WAL copies of page 1. A file that is not a WAL
// is an error.
func OpenWAL(ctx context.Context, walPath, dbPath string, opts Options) (*Analyzer, error) {
	if _, err := os.Stat(walPath); err != nil {
		return nil, errors.NewIO("stat", walPath, err)
	}
	return open(ctx, walPath, dbPath, true, opts)
}

func open(ctx context.Context, walPath, dbPath string, explicit bool, opts Options) (*Analyzer, error) {
	a := &Analyzer{
		dbPath:  dbPath,
		walPath: walPath,
		log:     logging.Or(opts.Logger),
	}

	// The backup must exist before anything opens the database.
	readPath := walPath
	if !opts.NoPreserve {
		p, err := evidence.Preserve(ctx, walPath, evidence.Options{
			BackupDir: opts.BackupDir,
			Tool:      opts.Tool,
			Logger:    a.log,
		})
		if err != nil {
			return nil, errors.Wrap(err, "preserve WAL")
		}
		if p != nil {
			a.preservation = p
			readPath = p.Backup
		}
	}

	r, err := wal.Open(readPath)
	if err != nil {
		if explicit || !errors.Is(err, errors.ErrInvalidMagic) {
			return nil, err
		}
		a.log.Warn("ignoring file that is not a WAL", "path", readPath, "error", err)
		r, _ = wal.FromBytes(nil)
	}
	a.wal = r

	if dbPath != "" {
		live, err := sqlite.OpenLive(ctx, dbPath)
		if err != nil {
			a.log.Warn("live connection unavailable, continuing without it", "path", dbPath, "error", err)
		} else {
			a.live = live
		}
	}

	bopts := pagemap.Options{
		DBPath:   dbPath,
		WAL:      a.wal,
		MaxDepth: opts.MaxDepth,
		Logger:   a.log,
	}
	if a.live != nil {
		bopts.Catalog = a.live
	}
	pm, err := pagemap.Build(ctx, bopts)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "build page map")
	}
	a.pm = pm
	a.engine = recovery.New(a.wal, pm)
	var lookup recovery.RowLookup
	if a.live != nil {
		lookup = a.live
	}
	a.differ = recovery.NewDiffer(lookup, pm)

	logging.WALOpened(a.log, readPath, len(a.wal.Frames()), a.wal.PageSize(),
		"db", dbPath, "pages_mapped", pm.Len(), "wal_only_tables", len(pm.WALOnlyTables()))
	return a, nil
}

// Close releases the WAL mapping and the live connection. The backup is
// kept.
func (a *Analyzer) Close() error {
	var first error
	if a.live != nil {
		if err := a.live.Close(); err != nil {
			first = err
		}
		a.live = nil
	}
	if a.wal != nil {
		if err := a.wal.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DBPath returns the database path, empty for a WAL opened on its own.
func (a *Analyzer) DBPath() string { return a.dbPath }

// WALPath returns the original WAL path.
func (a *Analyzer) WALPath() string { return a.walPath }

// HasWAL reports whether a WAL with a valid header was found.
func (a *Analyzer) HasWAL() bool { return a.wal.Valid() }

// Live returns the live connection, or nil when it could not be opened.
func (a *Analyzer) Live() *sqlite.Live { return a.live }

// Preservation returns the evidence record, nil when preservation was
// skipped or there was no WAL.
func (a *Analyzer) Preservation() *evidence.Preservation { return a.preservation }

// PageMap returns the page map.
func (a *Analyzer) PageMap() *pagemap.Map { return a.pm }

// Columns returns the column names of table.
func (a *Analyzer) Columns(table string) []string { return a.pm.Columns(table) }

// PKIndex returns the rowid-alias column of table, or -1.
func (a *Analyzer) PKIndex(table string) int { return a.pm.PKIndex(table) }

// WALOnlyTables lists tables that exist only in the WAL.
func (a *Analyzer) WALOnlyTables() []string { return a.pm.WALOnlyTables() }

// Frames returns the parsed frames.
func (a *Analyzer) Frames() []wal.Frame { return a.wal.Frames() }

// PageData returns the page image of frame i, nil when out of range. The
// slice is only valid until Close.
func (a *Analyzer) PageData(i int) []byte { return a.wal.PageData(i) }

// Summary returns WAL-level counts.
func (a *Analyzer) Summary() wal.Summary { return a.wal.Summary() }

// TransactionGroups splits the frames into transactions.
func (a *Analyzer) TransactionGroups() []wal.TransactionGroup { return a.wal.TransactionGroups() }

// Search looks for q in the WAL.
func (a *Analyzer) Search(ctx context.Context, q recovery.Query) (iter.Seq[recovery.Hit], error) {
	return a.engine.Search(ctx, q)
}

// SearchLive looks for q in the live tables. Without a live connection it
// yields nothing.
func (a *Analyzer) SearchLive(ctx context.Context, q recovery.Query) (iter.Seq[recovery.Hit], error) {
	if a.live == nil {
		if _, err := q.Matcher(); err != nil {
			return nil, err
		}
		return func(func(recovery.Hit) bool) {}, nil
	}
	return recovery.SearchLive(ctx, a.live, q)
}

// RecoverAll yields every WAL record passing flt.
func (a *Analyzer) RecoverAll(ctx context.Context, flt recovery.Filter) iter.Seq[recovery.Record] {
	return a.engine.RecoverAll(ctx, flt)
}

// TableStats returns per-table WAL record counts.
func (a *Analyzer) TableStats() []recovery.TableStats { return a.engine.TableStats() }

// Browse returns one page of a table's WAL records sorted by rowid.
func (a *Analyzer) Browse(ctx context.Context, table string, limit, offset int) (recovery.BrowseResult, error) {
	return a.engine.Browse(ctx, table, limit, offset)
}

// Diff compares a WAL record with the live database.
func (a *Analyzer) Diff(ctx context.Context, rec recovery.Record) (recovery.Diff, error) {
	a.diffMu.Lock()
	defer a.diffMu.Unlock()
	return a.differ.Diff(ctx, rec)
}

// DiffCacheStats reports the live-row cache behind Diff.
func (a *Analyzer) DiffCacheStats() cache.Stats { return a.differ.CacheStats() }
