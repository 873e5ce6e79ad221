// Package verify decides whether a step succeeded. The primary signal is
// SSIM against an operator-captured reference image; when no reference
// exists the before/after pixel diff decides. A model diagnostic is attached
// for inspection but never changes the verdict.
package verify

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Standard SSIM stabilizers for 8-bit dynamic range.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
	ssimWindow = 8
)

// SSIM computes the mean structural similarity between two images over
// non-overlapping 8x8 windows of their grayscale forms. b is resized to a's
// dimensions first.
func SSIM(a, b image.Image) (float64, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("nil image")
	}
	bounds := a.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < ssimWindow || h < ssimWindow {
		return 0, fmt.Errorf("image too small for SSIM: %dx%d", w, h)
	}

	ga := imaging.Grayscale(a)
	gb := imaging.Grayscale(imaging.Resize(b, w, h, imaging.Lanczos))

	la := toLuma(ga)
	lb := toLuma(gb)

	var sum float64
	var windows int
	for y := 0; y+ssimWindow <= h; y += ssimWindow {
		for x := 0; x+ssimWindow <= w; x += ssimWindow {
			sum += windowSSIM(la, lb, w, x, y)
			windows++
		}
	}
	if windows == 0 {
		return 0, fmt.Errorf("no SSIM windows")
	}
	return sum / float64(windows), nil
}

func windowSSIM(a, b []float64, stride, x0, y0 int) float64 {
	var muA, muB float64
	n := float64(ssimWindow * ssimWindow)
	for y := y0; y < y0+ssimWindow; y++ {
		for x := x0; x < x0+ssimWindow; x++ {
			muA += a[y*stride+x]
			muB += b[y*stride+x]
		}
	}
	muA /= n
	muB /= n

	var varA, varB, cov float64
	for y := y0; y < y0+ssimWindow; y++ {
		for x := x0; x < x0+ssimWindow; x++ {
			da := a[y*stride+x] - muA
			db := b[y*stride+x] - muB
			varA += da * da
			varB += db * db
			cov += da * db
		}
	}
	varA /= n - 1
	varB /= n - 1
	cov /= n - 1

	num := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
	den := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)
	if den == 0 {
		return 1
	}
	return num / den
}

func toLuma(img *image.NRGBA) []float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			// Grayscale output has R=G=B.
			out[y*w+x] = float64(row[x*4])
		}
	}
	return out
}
