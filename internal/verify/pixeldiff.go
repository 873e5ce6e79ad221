package verify

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"roadtest/internal/types"
)

// PixelDiff measures how much of the screen changed between before and
// after. A pixel counts as changed when its grayscale delta exceeds
// pixelDelta; the screen counts as changed when more than changeThreshold
// percent of pixels changed.
func PixelDiff(before, after image.Image, pixelDelta int, changeThreshold float64) (types.PixelResult, error) {
	if before == nil || after == nil {
		return types.PixelResult{}, fmt.Errorf("nil image")
	}
	bounds := before.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	lb := toLuma(imaging.Grayscale(before))
	la := toLuma(imaging.Grayscale(imaging.Resize(after, w, h, imaging.Lanczos)))

	var changed int
	for i := range lb {
		d := lb[i] - la[i]
		if d < 0 {
			d = -d
		}
		if d > float64(pixelDelta) {
			changed++
		}
	}
	pct := 100 * float64(changed) / float64(len(lb))
	return types.PixelResult{
		ChangePercentage: pct,
		Changed:          pct > changeThreshold,
	}, nil
}
