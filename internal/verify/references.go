package verify

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"roadtest/internal/types"
)

// ReferenceStore holds operator-captured reference screenshots, one
// directory per device geometry so that a 1920x1080 reference is never
// compared against a 1280x720 capture.
type ReferenceStore struct {
	root string // <dataDir>/verification_images
}

// NewReferenceStore ensures the root directory exists.
func NewReferenceStore(dataDir string) (*ReferenceStore, error) {
	root := filepath.Join(dataDir, "verification_images")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating reference root: %w", err)
	}
	return &ReferenceStore{root: root}, nil
}

// Path returns the canonical location for a named reference, whether or not
// it exists yet.
func (r *ReferenceStore) Path(deviceID, name string) string {
	return filepath.Join(r.root, deviceID, sanitizeRefName(name)+".png")
}

// Load reads a reference image. A missing reference returns (nil, "", nil)
// so callers can fall through to pixel-diff verification.
func (r *ReferenceStore) Load(deviceID, name string) (image.Image, string, error) {
	path := r.Path(deviceID, name)
	img, err := imaging.Open(path)
	if os.IsNotExist(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("opening reference %s: %w", path, err)
	}
	return img, path, nil
}

// Save writes a captured screen as the reference for name, replacing any
// previous capture.
func (r *ReferenceStore) Save(deviceID, name string, png []byte) (string, error) {
	path := r.Path(deviceID, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, png, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// List returns the reference names stored for one device geometry.
func (r *ReferenceStore) List(deviceID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, deviceID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".png"))
	}
	return names, nil
}

func sanitizeRefName(name string) string {
	name = types.NormalizeIconName(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
