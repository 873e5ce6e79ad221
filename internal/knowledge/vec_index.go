//go:build sqlite_vec && cgo

package knowledge

import (
	"bytes"
	"encoding/binary"
	"fmt"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	vec.Auto()
}

const vecIndexAvailable = true

// vecEnsure creates the vec0 virtual table for the given embedding
// dimensionality. Safe to call on every upsert.
func (x *TestCaseIndex) vecEnsure(dim int) error {
	stmt := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_testcases USING vec0(embedding float[%d], case_id TEXT)",
		dim,
	)
	_, err := x.db.Exec(stmt)
	return err
}

// vecUpsert replaces the indexed embedding for one case.
func (x *TestCaseIndex) vecUpsert(id string, v []float32) error {
	if err := x.vecEnsure(len(v)); err != nil {
		return err
	}
	if _, err := x.db.Exec("DELETE FROM vec_testcases WHERE case_id = ?", id); err != nil {
		return err
	}
	_, err := x.db.Exec(
		"INSERT INTO vec_testcases (embedding, case_id) VALUES (?, ?)",
		encodeVecBlob(v), id,
	)
	return err
}

// vecRank returns the k nearest case ids with cosine distances, closest
// first.
func (x *TestCaseIndex) vecRank(queryVec []float32, k int) ([]vecHit, error) {
	rows, err := x.db.Query(`
		SELECT case_id, vec_distance_cosine(embedding, ?) AS distance
		FROM vec_testcases
		ORDER BY distance ASC
		LIMIT ?`,
		encodeVecBlob(queryVec), k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vecHit
	for rows.Next() {
		var h vecHit
		if err := rows.Scan(&h.id, &h.distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// encodeVecBlob packs a float32 slice into the little-endian blob format
// sqlite-vec expects.
func encodeVecBlob(v []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil
	}
	return buf.Bytes()
}
