//go:build !sqlite_vec || !cgo

package knowledge

import "fmt"

const vecIndexAvailable = false

func (x *TestCaseIndex) vecUpsert(string, []float32) error { return nil }

func (x *TestCaseIndex) vecRank([]float32, int) ([]vecHit, error) {
	return nil, fmt.Errorf("sqlite-vec index not built in")
}
