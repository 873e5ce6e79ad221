//go:build cgo

package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"

	"roadtest/internal/types"
)

// TesseractEngine is the production OCR engine.
type TesseractEngine struct {
	client *gosseract.Client
}

// NewTesseractEngine prepares a tesseract client for English recognition.
func NewTesseractEngine() (*TesseractEngine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting OCR language: %w", err)
	}
	return &TesseractEngine{client: client}, nil
}

func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, mode LayoutMode) ([]types.TextRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var psm gosseract.PageSegMode
	switch mode {
	case LayoutSparse:
		psm = gosseract.PSM_SPARSE_TEXT
	case LayoutSingleLine:
		psm = gosseract.PSM_SINGLE_LINE
	default:
		psm = gosseract.PSM_AUTO
	}
	if err := e.client.SetPageSegMode(psm); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding OCR input: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, err
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, err
	}

	regions := make([]types.TextRegion, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		regions = append(regions, types.TextRegion{
			Text:       b.Word,
			X:          b.Box.Min.X,
			Y:          b.Box.Min.Y,
			W:          b.Box.Dx(),
			H:          b.Box.Dy(),
			Confidence: b.Confidence,
		})
	}
	return regions, nil
}

func (e *TesseractEngine) Close() error {
	return e.client.Close()
}
