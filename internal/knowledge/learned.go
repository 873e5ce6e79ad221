package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"roadtest/internal/logging"
	"roadtest/internal/types"
)

// LearnedStore persists learned solutions, one JSON file per test id. A
// solution moves absent -> created (success_rate 1.0) -> updated; there is
// no delete-on-failure, a failed run simply does not touch the file.
type LearnedStore struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewLearnedStore creates the store directory if needed.
func NewLearnedStore(dir string) (*LearnedStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create learned dir: %w", err)
	}
	return &LearnedStore{dir: dir, now: time.Now}, nil
}

func (s *LearnedStore) path(testID string) string {
	// Test ids come from spreadsheets; keep the filename shell-safe.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, testID)
	return filepath.Join(s.dir, safe+".json")
}

// Get returns the learned solution for a test id, or nil when absent.
func (s *LearnedStore) Get(testID string) (*types.LearnedSolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(testID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sol types.LearnedSolution
	if err := json.Unmarshal(data, &sol); err != nil {
		return nil, fmt.Errorf("corrupt learned solution %s: %w", testID, err)
	}
	return &sol, nil
}

// Record upserts the solution after a run: execution_count is incremented,
// success_count conditionally, success_rate recomputed, and on success the
// step trace is replaced atomically.
func (s *LearnedStore) Record(testID, deviceID string, steps []types.LearnedStep, success bool) (*types.LearnedSolution, error) {
	if testID == "" {
		return nil, fmt.Errorf("test id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(testID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var sol *types.LearnedSolution
	if existing == nil {
		if !success {
			// Nothing learned yet and nothing to count against.
			return nil, nil
		}
		sol = &types.LearnedSolution{
			TestID:         testID,
			DeviceID:       deviceID,
			Steps:          steps,
			ExecutionCount: 1,
			SuccessCount:   1,
			CreatedAt:      now,
		}
	} else {
		sol = existing
		sol.ExecutionCount++
		if success {
			sol.SuccessCount++
			sol.Steps = steps
			sol.DeviceID = deviceID
		}
	}
	sol.LastExecution = now
	sol.RecomputeRate()

	if err := writeJSONAtomic(s.path(testID), sol); err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryKnowledge).Infow("learned solution recorded",
		"test_id", testID, "steps", len(sol.Steps),
		"executions", sol.ExecutionCount, "rate", sol.SuccessRate)
	return sol, nil
}

// Delete removes a learned solution. Operator-only; runs never delete.
func (s *LearnedStore) Delete(testID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(testID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns all test ids with learned solutions.
func (s *LearnedStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

func (s *LearnedStore) getLocked(testID string) (*types.LearnedSolution, error) {
	data, err := os.ReadFile(s.path(testID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sol types.LearnedSolution
	if err := json.Unmarshal(data, &sol); err != nil {
		return nil, fmt.Errorf("corrupt learned solution %s: %w", testID, err)
	}
	return &sol, nil
}
