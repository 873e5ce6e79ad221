// Package knowledge persists and retrieves the three corpora the engine
// learns from: ingested test cases (vector-indexed for semantic search),
// learned solutions (replayable step traces with success statistics), and
// device profiles (geometry-keyed icon coordinates).
//
// All three corpora are serialized per-process and written crash-atomically
// (write-temp + rename). Readers never observe a partial write.
package knowledge

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"roadtest/internal/config"
	"roadtest/internal/embedding"
	"roadtest/internal/logging"
)

// Store bundles the three corpora behind one handle.
type Store struct {
	TestCases *TestCaseIndex
	Learned   *LearnedStore
	Profiles  *ProfileStore
}

// Open initializes the knowledge store under the configured data directory.
// The embedding engine may be nil; semantic search then falls back to
// substring matching.
func Open(cfg *config.Config, engine embedding.Engine) (*Store, error) {
	log := logging.Get(logging.CategoryKnowledge)

	idx, err := OpenTestCaseIndex(cfg.Knowledge.VectorDBPath, engine, cfg.Knowledge.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("failed to open test case index: %w", err)
	}

	learned, err := NewLearnedStore(filepath.Join(cfg.DataDir, "learned"))
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to open learned store: %w", err)
	}

	profiles, err := NewProfileStore(filepath.Join(cfg.DataDir, "device-profiles"))
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}

	log.Infow("knowledge store opened", "db", cfg.Knowledge.VectorDBPath)
	return &Store{TestCases: idx, Learned: learned, Profiles: profiles}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.TestCases.Close()
}

// openSQLite opens the index database with the pragmas the store relies on.
func openSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Get(logging.CategoryKnowledge).Debugw("busy_timeout pragma failed", "err", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Get(logging.CategoryKnowledge).Debugw("journal_mode pragma failed", "err", err)
	}
	return db, nil
}

// writeJSONAtomic writes v to path via a temp file and rename so readers see
// either the old or the new content, never a partial file.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to swap file: %w", err)
	}
	return nil
}
