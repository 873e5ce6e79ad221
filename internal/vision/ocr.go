// Package vision resolves natural-language element descriptions to screen
// coordinates. Strategies run in a fixed precedence order: device profile,
// OCR over preprocessed variants, launcher-grid detection, multimodal model.
// Every successful resolution is learned back into the device profile.
package vision

import (
	"context"
	"image"

	"roadtest/internal/types"
)

// LayoutMode selects the OCR page-segmentation strategy. Automotive head
// units mix sparse icon labels with dense list screens, so the pipeline runs
// several modes and merges the hits.
type LayoutMode int

const (
	LayoutAuto       LayoutMode = iota // full automatic page segmentation
	LayoutSparse                       // sparse text, find as much as possible
	LayoutSingleLine                   // treat the image as one text line
)

var allLayoutModes = []LayoutMode{LayoutAuto, LayoutSparse, LayoutSingleLine}

// OCREngine recognizes text regions in an image. Implementations must be
// safe for sequential reuse; the resolver never calls Recognize concurrently.
type OCREngine interface {
	Recognize(ctx context.Context, img image.Image, mode LayoutMode) ([]types.TextRegion, error)
	Close() error
}
