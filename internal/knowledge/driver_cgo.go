//go:build cgo

package knowledge

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"
