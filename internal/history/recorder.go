// Package history persists run records: one JSON document per run plus a
// compact index for listings. Records are append-only; nothing ever rewrites
// a finished run.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"roadtest/internal/logging"
	"roadtest/internal/types"
)

// IndexEntry is the listing row kept in index.json for each run.
type IndexEntry struct {
	RunID       string    `json:"run_id"`
	TestID      string    `json:"test_id"`
	Mode        string    `json:"mode"`
	Status      string    `json:"status"`
	TotalSteps  int       `json:"total_steps"`
	StepsPassed int       `json:"steps_passed"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// Recorder owns the test_history directory. The lock covers only index
// read-modify-write; run documents are written atomically outside it.
type Recorder struct {
	root string // <dataDir>/test_history
	mu   sync.Mutex
}

func NewRecorder(dataDir string) (*Recorder, error) {
	root := filepath.Join(dataDir, "test_history")
	if err := os.MkdirAll(filepath.Join(root, "executions"), 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	return &Recorder{root: root}, nil
}

// SaveRun writes the full run document and registers it in the index.
func (r *Recorder) SaveRun(run *types.RunRecord) error {
	if run.RunID == "" {
		return fmt.Errorf("history: run has no id")
	}
	log := logging.Get(logging.CategoryHistory)

	path := r.runPath(run.RunID)
	if err := writeJSON(path, run); err != nil {
		return fmt.Errorf("writing run %s: %w", run.RunID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	index, err := r.readIndex()
	if err != nil {
		return err
	}
	entry := IndexEntry{
		RunID:       run.RunID,
		TestID:      run.TestID,
		Mode:        run.Mode,
		Status:      run.Status,
		TotalSteps:  run.TotalSteps,
		StepsPassed: run.StepsPassed,
		StartedAt:   run.StartedAt,
		DurationMs:  run.DurationMs,
	}
	replaced := false
	for i := range index {
		if index[i].RunID == run.RunID {
			index[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		index = append(index, entry)
	}
	sort.Slice(index, func(i, j int) bool {
		return index[i].StartedAt.After(index[j].StartedAt)
	})
	if err := writeJSON(filepath.Join(r.root, "index.json"), index); err != nil {
		return err
	}

	log.Infow("run recorded",
		"run_id", run.RunID,
		"test_id", run.TestID,
		"status", run.Status,
		"passed", run.StepsPassed,
		"total", run.TotalSteps)
	return nil
}

// GetRun loads one run document. Absent runs return (nil, nil).
func (r *Recorder) GetRun(runID string) (*types.RunRecord, error) {
	data, err := os.ReadFile(r.runPath(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var run types.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &run, nil
}

// List returns index entries newest first, capped at limit (0 for all).
func (r *Recorder) List(limit int) ([]IndexEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index, err := r.readIndex()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(index) > limit {
		index = index[:limit]
	}
	return index, nil
}

func (r *Recorder) readIndex() ([]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(r.root, "index.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var index []IndexEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decoding history index: %w", err)
	}
	return index, nil
}

func (r *Recorder) runPath(runID string) string {
	safe := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		}
		return '_'
	}, runID)
	return filepath.Join(r.root, "executions", safe+".json")
}

// Finalize fills the aggregate fields of a run from its step records.
func Finalize(run *types.RunRecord, finishedAt time.Time) {
	run.FinishedAt = finishedAt
	run.DurationMs = finishedAt.Sub(run.StartedAt).Milliseconds()

	var passed, failed int
	var ssimSum float64
	var ssimCount int
	for _, s := range run.Steps {
		switch s.Status {
		case "passed":
			passed++
		case "failed":
			failed++
		}
		if s.SSIMScore > 0 {
			ssimSum += s.SSIMScore
			ssimCount++
		}
	}
	run.StepsPassed = passed
	run.StepsFailed = failed
	if ssimCount > 0 {
		run.AverageSSIM = ssimSum / float64(ssimCount)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
