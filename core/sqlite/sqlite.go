// Package sqlite opens read-only database/sql connections to the database
// under analysis and answers schema questions through them.
//
// Build modes:
//   - Default (CGO_ENABLED=0): Uses pure Go modernc.org/sqlite
//   - CGO mode (CGO_ENABLED=1 -tags cgo_sqlite): Uses mattn/go-sqlite3 via contrib/sqlite-external
//
// The live connection only ever sees the main file plus committed WAL
// content. Everything else comes from the raw page parsers.
package sqlite

import (
	"context"
	"database/sql"
	"net/url"
	"path/filepath"

	"github.com/FocuswithJustin/walscope/core/errors"
)

// DriverName returns the database/sql driver name in use.
func DriverName() string {
	return driverName
}

// DriverType returns a string identifying the underlying implementation.
// Returns "cgo" for mattn/go-sqlite3, "purego" for modernc.org/sqlite.
func DriverType() string {
	return driverType
}

// IsCGO returns true if the CGO implementation is being used.
func IsCGO() bool {
	return driverType == "cgo"
}

// Open opens a SQLite database using the appropriate driver.
func Open(dataSourceName string) (*sql.DB, error) {
	return sql.Open(driverName, dataSourceName)
}

// ReadOnlyDSN builds a file: URI that opens path read-only.
func ReadOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewIO("resolve", path, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	q := url.Values{}
	q.Set("mode", "ro")
	for k, v := range driverParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sessionPragmas keep the connection from writing and, above all, from
// checkpointing the WAL away.
var sessionPragmas = []string{
	"PRAGMA query_only = ON",
	"PRAGMA wal_autocheckpoint = 0",
}

// OpenReadOnly opens path read-only with checkpointing disabled. The pool is
// limited to one connection so the session pragmas stay in effect.
func OpenReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	dsn, err := ReadOnlyDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := Open(dsn)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(0)

	for _, p := range sessionPragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, errors.NewIO("configure", path, err)
		}
	}
	return db, nil
}

// Info contains information about the SQLite driver configuration.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"`
	IsCGO      bool   `json:"is_cgo"`
	Package    string `json:"package"`
}

// GetInfo returns information about the current SQLite configuration.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		IsCGO:      IsCGO(),
		Package:    driverPackage,
	}
}
