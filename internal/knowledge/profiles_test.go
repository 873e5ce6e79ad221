package knowledge

import (
	"testing"

	"roadtest/internal/types"
)

func newProfileStore(t *testing.T) *ProfileStore {
	t.Helper()
	s, err := NewProfileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLoadOrCreateDerivesDeviceID(t *testing.T) {
	s := newProfileStore(t)

	p, err := s.LoadOrCreate(1920, 1080)
	if err != nil {
		t.Fatal(err)
	}
	if p.DeviceID != "device_1920x1080" {
		t.Errorf("device id = %q, want device_1920x1080", p.DeviceID)
	}
}

func TestSetAndGetCoordinateExact(t *testing.T) {
	s := newProfileStore(t)

	if err := s.SetCoordinate(1920, 1080, "Settings", 850, 450, types.SourceOCR); err != nil {
		t.Fatal(err)
	}

	coord, ok := s.GetCoordinate("device_1920x1080", "settings")
	if !ok {
		t.Fatal("expected exact-match hit")
	}
	if coord.X != 850 || coord.Y != 450 {
		t.Errorf("coordinate = %v, want (850, 450)", coord)
	}
	if coord.Source != types.SourceDeviceProfile {
		t.Errorf("source = %q, want device_profile", coord.Source)
	}
	if coord.Confidence != 100 {
		t.Errorf("confidence = %v, want 100", coord.Confidence)
	}
}

func TestGetCoordinateNormalizesName(t *testing.T) {
	s := newProfileStore(t)

	if err := s.SetCoordinate(1920, 1080, "App Launcher", 960, 1000, types.SourceGrid); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetCoordinate("device_1920x1080", "  App   Launcher "); !ok {
		t.Error("expected hit after normalization")
	}
}

func TestGetCoordinateFuzzySubstring(t *testing.T) {
	s := newProfileStore(t)

	if err := s.SetCoordinate(1920, 1080, "media_player", 300, 200, types.SourceModel); err != nil {
		t.Fatal(err)
	}

	// "media_play" is a substring of "media_player" with high Jaccard overlap.
	if _, ok := s.GetCoordinate("device_1920x1080", "media play"); !ok {
		t.Error("expected fuzzy hit for substring with Jaccard >= 0.7")
	}
}

func TestGetCoordinateFuzzyRejectsLowJaccard(t *testing.T) {
	s := newProfileStore(t)

	if err := s.SetCoordinate(1920, 1080, "abcdefghijklmnop", 10, 10, types.SourceOCR); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetCoordinate("device_1920x1080", "ab"); ok {
		t.Error("substring with tiny Jaccard overlap must not match")
	}
}

func TestGetCoordinateWrongGeometryMisses(t *testing.T) {
	s := newProfileStore(t)

	if err := s.SetCoordinate(1920, 1080, "settings", 850, 450, types.SourceOCR); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetCoordinate("device_1280x720", "settings"); ok {
		t.Error("coordinate must not leak across geometries")
	}
}

func TestDeleteCoordinate(t *testing.T) {
	s := newProfileStore(t)

	if err := s.SetCoordinate(1920, 1080, "settings", 850, 450, types.SourceOCR); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteCoordinate("device_1920x1080", "settings"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetCoordinate("device_1920x1080", "settings"); ok {
		t.Error("expected miss after delete")
	}
}

func TestCharSetJaccard(t *testing.T) {
	if got := charSetJaccard("abc", "abc"); got != 1.0 {
		t.Errorf("identical sets = %v, want 1.0", got)
	}
	if got := charSetJaccard("abc", "xyz"); got != 0.0 {
		t.Errorf("disjoint sets = %v, want 0.0", got)
	}
}
