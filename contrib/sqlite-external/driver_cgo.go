//go:build cgo_sqlite

package sqliteexternal

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the name mattn/go-sqlite3 registers with database/sql.
	DriverName = "sqlite3"
	// DriverType identifies the CGO implementation.
	DriverType    = "cgo"
	DriverPackage = "github.com/mattn/go-sqlite3"
)

// ReadOnlyParams are the go-sqlite3 DSN options that keep a connection from
// writing. They are added to the usual mode=ro URI parameter.
func ReadOnlyParams() map[string]string {
	return map[string]string{
		"_query_only": "true",
		"_txlock":     "deferred",
	}
}
