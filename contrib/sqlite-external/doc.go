// Package sqliteexternal provides the optional CGO SQLite driver.
//
// # CGO SQLite Driver
//
// To use the CGO driver (github.com/mattn/go-sqlite3) for the live
// read-only connection, build with:
//
//	CGO_ENABLED=1 go build -tags cgo_sqlite ./cmd/walscope
//
// # Default Pure Go Driver
//
// By default walscope uses modernc.org/sqlite, which needs no CGO. The raw
// WAL and B-tree parsers never use either driver; only schema lookups and
// live-row comparison go through database/sql.
package sqliteexternal
