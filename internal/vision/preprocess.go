package vision

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// variant is one preprocessed rendition of the screenshot fed to OCR.
// Head-unit themes vary wildly (dark chrome, light maps, low-contrast HVAC
// panels), so the pipeline tries several renditions and merges candidates.
type variant struct {
	name string
	img  image.Image
}

func preprocessVariants(src image.Image) []variant {
	gray := imaging.Grayscale(src)

	denoised := imaging.Sharpen(imaging.Blur(gray, 0.8), 1.2)
	equalized := equalize(gray)
	otsuEq := binarize(equalized, otsuThreshold(equalized))
	inverted := imaging.Invert(gray)
	edges := imaging.Convolve3x3(gray, [9]float64{
		0, -1, 0,
		-1, 5, -1,
		0, -1, 0,
	}, nil)
	otsuOnly := binarize(gray, otsuThreshold(gray))

	return []variant{
		{"denoise_sharpen", denoised},
		{"equalize_otsu", otsuEq},
		{"invert", inverted},
		{"edge_enhance", edges},
		{"otsu", otsuOnly},
	}
}

// equalize spreads the luminance histogram across the full range. A global
// equalization is a reasonable stand-in for adaptive methods at head-unit
// resolutions.
func equalize(gray *image.NRGBA) *image.NRGBA {
	var hist [256]int
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	total := w * h
	if total == 0 {
		return gray
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[gray.Pix[y*gray.Stride+x*4]]++
		}
	}

	var lut [256]uint8
	cum := 0
	for i := 0; i < 256; i++ {
		cum += hist[i]
		lut[i] = uint8(255 * cum / total)
	}

	out := imaging.Clone(gray)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*out.Stride + x*4
			v := lut[out.Pix[off]]
			out.Pix[off], out.Pix[off+1], out.Pix[off+2] = v, v, v
		}
	}
	return out
}

// otsuThreshold finds the threshold minimizing intra-class variance.
func otsuThreshold(gray *image.NRGBA) uint8 {
	var hist [256]int
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	total := w * h
	if total == 0 {
		return 128
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[gray.Pix[y*gray.Stride+x*4]]++
		}
	}

	var sumAll float64
	for i, n := range hist {
		sumAll += float64(i * n)
	}

	var sumBg, wBg float64
	var best float64
	threshold := uint8(128)
	for t := 0; t < 256; t++ {
		wBg += float64(hist[t])
		if wBg == 0 {
			continue
		}
		wFg := float64(total) - wBg
		if wFg == 0 {
			break
		}
		sumBg += float64(t * hist[t])
		muBg := sumBg / wBg
		muFg := (sumAll - sumBg) / wFg
		between := wBg * wFg * (muBg - muFg) * (muBg - muFg)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

func binarize(gray *image.NRGBA, threshold uint8) *image.NRGBA {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := imaging.New(w, h, color.NRGBA{0, 0, 0, 255})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if gray.Pix[y*gray.Stride+x*4] > threshold {
				off := y*out.Stride + x*4
				out.Pix[off], out.Pix[off+1], out.Pix[off+2] = 255, 255, 255
			}
		}
	}
	return out
}
