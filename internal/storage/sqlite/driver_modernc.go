//go:build !cgo_sqlite

package sqlite

// modernc.org/sqlite is a pure-Go driver registered under the name
// "sqlite", keeping default builds cgo-free. Switch to the cgo_sqlite
// build tag to link mattn/go-sqlite3 instead (driver_cgo.go) on
// platforms where the pure-Go driver underperforms.
import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
