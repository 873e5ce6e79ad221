package verify

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

// writeComparison renders reference (or before) and after side by side with a
// thin divider, for operator inspection of failed verifications.
func writeComparison(dataDir string, left, right image.Image, at time.Time) (string, error) {
	dir := filepath.Join(dataDir, "verification_comparisons")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	lb := left.Bounds()
	h := lb.Dy()
	right = imaging.Resize(right, 0, h, imaging.Lanczos)
	rb := right.Bounds()

	const gap = 4
	canvas := imaging.New(lb.Dx()+gap+rb.Dx(), h, color.NRGBA{30, 30, 30, 255})
	canvas = imaging.Paste(canvas, left, image.Pt(0, 0))
	canvas = imaging.Paste(canvas, right, image.Pt(lb.Dx()+gap, 0))

	path := filepath.Join(dir, fmt.Sprintf("comparison_%s.png", at.Format("20060102_150405")))
	if err := imaging.Save(canvas, path); err != nil {
		return "", fmt.Errorf("saving comparison image: %w", err)
	}
	return path, nil
}
