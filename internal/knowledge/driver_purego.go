//go:build !cgo

package knowledge

import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
