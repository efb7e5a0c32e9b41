//go:build sqlite_cgo

package store

import (
	_ "github.com/mattn/go-sqlite3" // SQLite driver (cgo)
)

// sqliteDriver selects the cgo driver when built with -tags sqlite_cgo.
const sqliteDriver = "sqlite3"
