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

// ProfileStore persists device profiles, one JSON file per geometry.
type ProfileStore struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewProfileStore creates the store directory if needed.
func NewProfileStore(dir string) (*ProfileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profiles dir: %w", err)
	}
	return &ProfileStore{dir: dir, now: time.Now}, nil
}

func (s *ProfileStore) path(deviceID string) string {
	return filepath.Join(s.dir, deviceID+".json")
}

// LoadOrCreate returns the profile for a geometry, creating an empty one if
// absent.
func (s *ProfileStore) LoadOrCreate(width, height int) (*types.DeviceProfile, error) {
	deviceID := types.DeviceID(width, height)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadLocked(deviceID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	p = &types.DeviceProfile{
		DeviceID: deviceID,
		Width:    width,
		Height:   height,
		Icons:    map[string]types.ProfileEntry{},
	}
	if err := writeJSONAtomic(s.path(deviceID), p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetCoordinate looks up a coordinate for a (possibly unnormalized) name.
// Exact match on the normalized name wins; otherwise a substring match with
// character-set Jaccard similarity >= 0.7 is accepted.
func (s *ProfileStore) GetCoordinate(deviceID, name string) (*types.Coordinate, bool) {
	key := types.NormalizeIconName(name)
	if key == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.loadLocked(deviceID)
	if err != nil || p == nil {
		return nil, false
	}

	if e, ok := p.Icons[key]; ok {
		return &types.Coordinate{X: e.X, Y: e.Y, Source: types.SourceDeviceProfile, Confidence: 100}, true
	}

	// Fuzzy fallback: substring containment either way, gated by Jaccard.
	var bestKey string
	bestScore := 0.0
	for k := range p.Icons {
		if !strings.Contains(k, key) && !strings.Contains(key, k) {
			continue
		}
		if score := charSetJaccard(k, key); score >= 0.7 && score > bestScore {
			bestKey, bestScore = k, score
		}
	}
	if bestKey == "" {
		return nil, false
	}
	e := p.Icons[bestKey]
	return &types.Coordinate{X: e.X, Y: e.Y, Source: types.SourceDeviceProfile, Confidence: 100 * bestScore}, true
}

// SetCoordinate adds or updates an icon coordinate.
func (s *ProfileStore) SetCoordinate(width, height int, name string, x, y int, source types.CoordinateSource) error {
	key := types.NormalizeIconName(name)
	if key == "" {
		return fmt.Errorf("icon name required")
	}
	deviceID := types.DeviceID(width, height)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadLocked(deviceID)
	if err != nil {
		return err
	}
	if p == nil {
		p = &types.DeviceProfile{
			DeviceID: deviceID,
			Width:    width,
			Height:   height,
			Icons:    map[string]types.ProfileEntry{},
		}
	}
	p.Icons[key] = types.ProfileEntry{
		X:            x,
		Y:            y,
		Source:       source,
		LastVerified: s.now(),
	}
	if err := writeJSONAtomic(s.path(deviceID), p); err != nil {
		return err
	}
	logging.Get(logging.CategoryKnowledge).Debugw("profile coordinate stored",
		"device", deviceID, "icon", key, "x", x, "y", y, "source", source)
	return nil
}

// DeleteCoordinate removes an icon entry.
func (s *ProfileStore) DeleteCoordinate(deviceID, name string) error {
	key := types.NormalizeIconName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadLocked(deviceID)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	if _, ok := p.Icons[key]; !ok {
		return nil
	}
	delete(p.Icons, key)
	return writeJSONAtomic(s.path(deviceID), p)
}

// Get returns a profile by device id, or nil when absent.
func (s *ProfileStore) Get(deviceID string) (*types.DeviceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked(deviceID)
}

// List returns all stored profiles.
func (s *ProfileStore) List() ([]*types.DeviceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*types.DeviceProfile
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p, err := s.loadLocked(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil || p == nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *ProfileStore) loadLocked(deviceID string) (*types.DeviceProfile, error) {
	data, err := os.ReadFile(s.path(deviceID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p types.DeviceProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt device profile %s: %w", deviceID, err)
	}
	if p.Icons == nil {
		p.Icons = map[string]types.ProfileEntry{}
	}
	return &p, nil
}

// charSetJaccard computes Jaccard similarity over the rune sets of a and b.
func charSetJaccard(a, b string) float64 {
	setA := map[rune]struct{}{}
	for _, r := range a {
		setA[r] = struct{}{}
	}
	setB := map[rune]struct{}{}
	for _, r := range b {
		setB[r] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	inter := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
