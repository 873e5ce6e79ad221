package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"roadtest/internal/embedding"
	"roadtest/internal/logging"
	"roadtest/internal/types"
)

// SearchHit is one semantic search result.
type SearchHit struct {
	Case       types.TestCase `json:"case"`
	Similarity float64        `json:"similarity"`
}

// vecHit is a raw row from the sqlite-vec index.
type vecHit struct {
	id       string
	distance float64
}

// TestCaseIndex stores ingested test cases as a JSON document per case plus
// an embedding for semantic search.
type TestCaseIndex struct {
	db     *sql.DB
	mu     sync.RWMutex
	engine embedding.Engine
	minSim float64
}

// OpenTestCaseIndex opens (and migrates) the index database.
func OpenTestCaseIndex(path string, engine embedding.Engine, minSim float64) (*TestCaseIndex, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS testcases (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS ingested_files (
		path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &TestCaseIndex{db: db, engine: engine, minSim: minSim}, nil
}

// Close releases the database handle.
func (x *TestCaseIndex) Close() error {
	return x.db.Close()
}

// Upsert adds or replaces a test case and its embedding.
func (x *TestCaseIndex) Upsert(ctx context.Context, tc types.TestCase) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.upsertLocked(ctx, tc)
}

func (x *TestCaseIndex) upsertLocked(ctx context.Context, tc types.TestCase) error {
	if tc.ID == "" {
		return fmt.Errorf("test case id required")
	}
	doc, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("failed to marshal test case: %w", err)
	}

	var vec []float32
	var embJSON interface{}
	if x.engine != nil {
		v, err := x.engine.Embed(ctx, embeddingText(tc))
		if err != nil {
			// Embedding failure degrades search, not ingestion.
			logging.Get(logging.CategoryKnowledge).Warnw("embedding failed",
				"test_id", tc.ID, "err", err)
		} else if data, err := json.Marshal(v); err == nil {
			vec = v
			embJSON = string(data)
		}
	}

	if _, err := x.db.Exec(
		"INSERT OR REPLACE INTO testcases (id, doc, embedding) VALUES (?, ?, ?)",
		tc.ID, string(doc), embJSON,
	); err != nil {
		return err
	}

	if vecIndexAvailable && vec != nil {
		if err := x.vecUpsert(tc.ID, vec); err != nil {
			logging.Get(logging.CategoryKnowledge).Warnw("vec index update failed",
				"test_id", tc.ID, "err", err)
		}
	}
	return nil
}

// Get returns a test case by exact id.
func (x *TestCaseIndex) Get(id string) (*types.TestCase, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var doc string
	err := x.db.QueryRow("SELECT doc FROM testcases WHERE id = ?", id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tc types.TestCase
	if err := json.Unmarshal([]byte(doc), &tc); err != nil {
		return nil, fmt.Errorf("corrupt test case document %s: %w", id, err)
	}
	return &tc, nil
}

// Search returns the top-k cases whose embeddings are at least minSim close
// to the query. Without an engine it falls back to substring matching.
func (x *TestCaseIndex) Search(ctx context.Context, query string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 5
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.engine == nil {
		return x.substringSearch(query, k)
	}

	queryVec, err := x.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if vecIndexAvailable {
		hits, err := x.vecSearchLocked(queryVec, k)
		if err == nil {
			return hits, nil
		}
		logging.Get(logging.CategoryKnowledge).Warnw("vec index search failed, scanning",
			"err", err)
	}

	rows, err := x.db.Query("SELECT doc, embedding FROM testcases WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var doc, embJSON string
		if err := rows.Scan(&doc, &embJSON); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil || sim < x.minSim {
			continue
		}
		var tc types.TestCase
		if err := json.Unmarshal([]byte(doc), &tc); err != nil {
			continue
		}
		hits = append(hits, SearchHit{Case: tc, Similarity: sim})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, rows.Err()
}

// vecSearchLocked ranks through the sqlite-vec virtual table. Cosine
// distance maps to similarity as 1 - distance.
func (x *TestCaseIndex) vecSearchLocked(queryVec []float32, k int) ([]SearchHit, error) {
	raw, err := x.vecRank(queryVec, k)
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	for _, r := range raw {
		sim := 1 - r.distance
		if sim < x.minSim {
			continue
		}
		var doc string
		if err := x.db.QueryRow("SELECT doc FROM testcases WHERE id = ?", r.id).Scan(&doc); err != nil {
			continue
		}
		var tc types.TestCase
		if err := json.Unmarshal([]byte(doc), &tc); err != nil {
			continue
		}
		hits = append(hits, SearchHit{Case: tc, Similarity: sim})
	}
	return hits, nil
}

func (x *TestCaseIndex) substringSearch(query string, k int) ([]SearchHit, error) {
	rows, err := x.db.Query("SELECT doc FROM testcases")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	needle := strings.ToLower(query)
	var hits []SearchHit
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(doc), needle) {
			continue
		}
		var tc types.TestCase
		if err := json.Unmarshal([]byte(doc), &tc); err != nil {
			continue
		}
		hits = append(hits, SearchHit{Case: tc, Similarity: 1})
		if len(hits) == k {
			break
		}
	}
	return hits, rows.Err()
}

// List returns all indexed test case ids.
func (x *TestCaseIndex) List() ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	rows, err := x.db.Query("SELECT id FROM testcases ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// fileHash returns the recorded content hash for an ingested file, or "".
func (x *TestCaseIndex) fileHash(path string) (string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var hash string
	err := x.db.QueryRow("SELECT content_hash FROM ingested_files WHERE path = ?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func (x *TestCaseIndex) recordFileHash(path, hash string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, err := x.db.Exec(
		"INSERT OR REPLACE INTO ingested_files (path, content_hash) VALUES (?, ?)",
		path, hash,
	)
	return err
}

// embeddingText is the text representation a case is indexed under.
func embeddingText(tc types.TestCase) string {
	var b strings.Builder
	b.WriteString(tc.Title)
	if tc.Description != "" {
		b.WriteString("\n")
		b.WriteString(tc.Description)
	}
	for _, s := range tc.Steps {
		b.WriteString("\n")
		b.WriteString(s.Goal)
	}
	return b.String()
}
