package pool

import (
	// Persistent backend: cgo driver, sqlite-vec loadable via the
	// sqlite_vec build tag (see store/init_vec.go).
	_ "github.com/mattn/go-sqlite3"

	// In-memory flavor: pure-Go driver, no cgo required.
	_ "modernc.org/sqlite"
)
