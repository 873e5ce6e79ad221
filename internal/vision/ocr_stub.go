//go:build !cgo

package vision

import (
	"context"
	"errors"
	"image"

	"roadtest/internal/types"
)

// TesseractEngine requires cgo. The pure-Go build still links, but OCR
// resolution reports unavailable and the resolver falls through to the
// grid and model strategies.
type TesseractEngine struct{}

var errOCRUnavailable = errors.New("vision: OCR requires a cgo build with tesseract installed")

func NewTesseractEngine() (*TesseractEngine, error) {
	return nil, errOCRUnavailable
}

func (e *TesseractEngine) Recognize(context.Context, image.Image, LayoutMode) ([]types.TextRegion, error) {
	return nil, errOCRUnavailable
}

func (e *TesseractEngine) Close() error { return nil }
