//go:build !sqlite_cgo

package store

import (
	_ "modernc.org/sqlite" // SQLite driver
)

// sqliteDriver selects the pure-Go driver. Build with -tags sqlite_cgo to
// use mattn/go-sqlite3 instead.
const sqliteDriver = "sqlite"
