//go:build !cgo_sqlite

package sqlite

import (
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const (
	driverName    = "sqlite"
	driverType    = "purego"
	driverPackage = "modernc.org/sqlite"
)

// driverParams are extra DSN parameters understood by the driver.
var driverParams = map[string]string{}
