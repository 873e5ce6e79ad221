package vision

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"

	"roadtest/internal/config"
	"roadtest/internal/logging"
	"roadtest/internal/types"
)

// ProfileLookup is the slice of the device-profile store the resolver needs:
// O(1) known-coordinate lookup and write-back of newly resolved elements.
type ProfileLookup interface {
	GetCoordinate(deviceID, name string) (*types.Coordinate, bool)
	SetCoordinate(width, height int, name string, x, y int, source types.CoordinateSource) error
}

// ModelOracle is the multimodal-model surface the resolver uses. All calls
// are best-effort; errors route to the next strategy instead of failing the
// resolution.
type ModelOracle interface {
	HasTextLabel(ctx context.Context, description string, screenshot []byte) (bool, error)
	LocateIcon(ctx context.Context, name string, screenshot []byte, width, height int) (*types.Coordinate, error)
	AnalyzeScreen(ctx context.Context, screenshot []byte, question string) (string, error)
}

// ScreenAnalysis is the output of Analyze.
type ScreenAnalysis struct {
	Summary  string             `json:"summary"`
	Elements []types.TextRegion `json:"detected_elements"`
}

// Resolver turns element descriptions into coordinates using a fixed
// strategy precedence. Strategies report misses by returning no coordinate;
// a genuine error surfaces only when the screenshot itself is unusable.
type Resolver struct {
	profiles ProfileLookup
	oracle   ModelOracle
	ocr      OCREngine

	minConfidence  float64
	fuzzyThreshold float64
}

// New builds a Resolver. oracle and ocr may each be nil; the corresponding
// strategies are skipped.
func New(cfg *config.Config, profiles ProfileLookup, oracle ModelOracle, ocr OCREngine) *Resolver {
	return &Resolver{
		profiles:       profiles,
		oracle:         oracle,
		ocr:            ocr,
		minConfidence:  cfg.Vision.OCRMinConfidence,
		fuzzyThreshold: cfg.Vision.FuzzyThreshold,
	}
}

// FindElement resolves description to a screen coordinate, or (nil, nil)
// when every strategy misses.
func (r *Resolver) FindElement(ctx context.Context, screenshot []byte, description string) (*types.Coordinate, error) {
	log := logging.Get(logging.CategoryVision)

	img, err := png.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	deviceID := types.DeviceID(width, height)
	normalized := types.NormalizeIconName(description)

	if r.profiles != nil {
		if coord, ok := r.profiles.GetCoordinate(deviceID, description); ok && coord != nil {
			log.Infow("resolved from device profile",
				"element", normalized, "coord", coord.String())
			return coord, nil
		}
	}

	texted := true
	if r.oracle != nil {
		if t, err := r.oracle.HasTextLabel(ctx, description, screenshot); err != nil {
			log.Debugw("routing query failed, assuming texted", "err", err)
		} else {
			texted = t
		}
	}

	if texted {
		if coord := r.ocrLocate(ctx, img, description, width, height); coord != nil {
			r.learn(width, height, description, coord)
			log.Infow("resolved via OCR",
				"element", normalized, "coord", coord.String(), "confidence", coord.Confidence)
			return coord, nil
		}
		log.Debugw("no OCR match, falling through", "element", normalized)
	}

	if isLauncherDescription(description) {
		if coord, ok := detectLauncherGrid(img); ok {
			r.learn(width, height, description, coord)
			log.Infow("resolved via grid detector",
				"element", normalized, "coord", coord.String())
			return coord, nil
		}
		log.Debugw("grid detector found no launcher pattern", "element", normalized)
	}

	if r.oracle != nil {
		coord, err := r.oracle.LocateIcon(ctx, description, screenshot, width, height)
		if err != nil {
			log.Warnw("model locator failed", "element", normalized, "err", err)
		} else if coord != nil {
			r.learn(width, height, description, coord)
			log.Infow("resolved via model",
				"element", normalized, "coord", coord.String(), "confidence", coord.Confidence)
			return coord, nil
		}
	}

	log.Warnw("element not resolved", "element", normalized)
	return nil, nil
}

// ExtractText runs OCR over the screenshot and returns every confident hit.
func (r *Resolver) ExtractText(ctx context.Context, screenshot []byte) ([]types.TextRegion, error) {
	if r.ocr == nil {
		return nil, nil
	}
	img, err := png.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, err
	}

	log := logging.Get(logging.CategoryVision)
	var regions []types.TextRegion
	for _, mode := range []LayoutMode{LayoutAuto, LayoutSparse} {
		hits, err := r.ocr.Recognize(ctx, img, mode)
		if err != nil {
			log.Debugw("ocr pass failed", "mode", mode, "err", err)
			continue
		}
		for _, hit := range hits {
			if hit.Confidence >= r.minConfidence {
				regions = append(regions, hit)
			}
		}
	}
	return mergeRegions(regions), nil
}

// Analyze combines a model summary with the OCR text inventory.
func (r *Resolver) Analyze(ctx context.Context, screenshot []byte, question string) (*ScreenAnalysis, error) {
	analysis := &ScreenAnalysis{}

	if regions, err := r.ExtractText(ctx, screenshot); err == nil {
		analysis.Elements = regions
	}
	if r.oracle != nil {
		summary, err := r.oracle.AnalyzeScreen(ctx, screenshot, question)
		if err != nil {
			logging.Get(logging.CategoryVision).Debugw("screen summary unavailable", "err", err)
		} else {
			analysis.Summary = summary
		}
	}
	return analysis, nil
}

func (r *Resolver) ocrLocate(ctx context.Context, img image.Image, target string, width, height int) *types.Coordinate {
	if r.ocr == nil {
		return nil
	}
	log := logging.Get(logging.CategoryVision)

	var cands []candidate
	order := 0
	for _, v := range preprocessVariants(img) {
		for _, mode := range allLayoutModes {
			hits, err := r.ocr.Recognize(ctx, v.img, mode)
			if err != nil {
				log.Debugw("ocr variant failed", "variant", v.name, "mode", mode, "err", err)
				continue
			}
			for _, hit := range hits {
				if hit.Confidence < r.minConfidence {
					continue
				}
				sim, exact, ok := matchTarget(hit.Text, target, r.fuzzyThreshold)
				if !ok {
					continue
				}
				cands = append(cands, candidate{
					region:     hit,
					similarity: sim,
					exact:      exact,
					order:      order,
				})
				order++
			}
		}
	}

	best, ok := selectBest(dedupeRegions(cands), width, height)
	if !ok {
		return nil
	}
	x, y := best.region.Center()
	return &types.Coordinate{
		X:          x,
		Y:          y,
		Source:     types.SourceOCR,
		Confidence: best.region.Confidence,
	}
}

func (r *Resolver) learn(width, height int, description string, coord *types.Coordinate) {
	if r.profiles == nil {
		return
	}
	if err := r.profiles.SetCoordinate(width, height, description, coord.X, coord.Y, coord.Source); err != nil {
		logging.Get(logging.CategoryVision).Warnw("profile write-back failed",
			"element", types.NormalizeIconName(description), "err", err)
	}
}

func isLauncherDescription(description string) bool {
	d := strings.ToLower(description)
	for _, kw := range []string{"launcher", "drawer", "grid"} {
		if strings.Contains(d, kw) {
			return true
		}
	}
	return false
}

// mergeRegions drops duplicate OCR hits across layout modes.
func mergeRegions(regions []types.TextRegion) []types.TextRegion {
	const tol = 6
	var out []types.TextRegion
	for _, reg := range regions {
		dup := false
		for i := range out {
			ox, oy := out[i].Center()
			x, y := reg.Center()
			if abs(ox-x) <= tol && abs(oy-y) <= tol && strings.EqualFold(out[i].Text, reg.Text) {
				if reg.Confidence > out[i].Confidence {
					out[i] = reg
				}
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, reg)
		}
	}
	return out
}
