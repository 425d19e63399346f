// Package sqlite selects the SQLite driver for the library database.
//
// The default build uses the pure Go modernc.org/sqlite driver so the
// reader cross-compiles without a C toolchain. Building with
// -tags cgo_sqlite swaps in mattn/go-sqlite3 for installations that
// want the C engine.
//
// Use Open instead of sql.Open so callers never hard-code a driver name.
package sqlite

import (
	"database/sql"
	"fmt"
)

// DriverName returns the registered database/sql driver name for this build.
func DriverName() string {
	return driverName
}

// DriverType identifies the implementation: "purego" or "cgo".
func DriverType() string {
	return driverType
}

// IsCGO reports whether the CGO driver is compiled in.
func IsCGO() bool {
	return driverType == "cgo"
}

// Open opens a SQLite database with the build's driver.
func Open(dataSourceName string) (*sql.DB, error) {
	return sql.Open(driverName, dataSourceName)
}

// OpenReadOnly opens a database in read-only mode. Both drivers need the
// file: URI form for query parameters to take effect.
func OpenReadOnly(path string) (*sql.DB, error) {
	return Open("file:" + path + "?mode=ro")
}

// MustOpen opens a database and panics on error. Intended for tests and
// initialization paths where a failed open is unrecoverable.
func MustOpen(dataSourceName string) *sql.DB {
	db, err := Open(dataSourceName)
	if err != nil {
		panic(fmt.Sprintf("sqlite: failed to open %s: %v", dataSourceName, err))
	}
	return db
}

// Info describes the active driver configuration.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"`
	IsCGO      bool   `json:"is_cgo"`
	Package    string `json:"package"`
}

// GetInfo returns the active driver configuration.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		IsCGO:      IsCGO(),
		Package:    driverPackage,
	}
}
