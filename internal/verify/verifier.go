package verify

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"roadtest/internal/config"
	"roadtest/internal/logging"
	"roadtest/internal/types"
)

// Diagnostician is the optional model-backed second opinion. Its verdict is
// recorded but never overrides the SSIM or pixel decision.
type Diagnostician interface {
	VerifyGoal(ctx context.Context, goal string, before, after []byte) (types.AIVerdict, error)
}

// Verifier decides step outcomes. With a reference image present the SSIM
// score against the reference is authoritative; without one, the verdict is
// whether the screen changed at all.
type Verifier struct {
	refs    *ReferenceStore
	diag    Diagnostician
	dataDir string

	ssimThreshold   float64
	changeThreshold float64
	pixelDelta      int
}

// New builds a Verifier from the verify section of the config. diag may be
// nil when no model is configured.
func New(cfg *config.Config, refs *ReferenceStore, diag Diagnostician) *Verifier {
	return &Verifier{
		refs:            refs,
		diag:            diag,
		dataDir:         cfg.DataDir,
		ssimThreshold:   cfg.Verify.SSIMThreshold,
		changeThreshold: cfg.Verify.ChangeThreshold,
		pixelDelta:      cfg.Verify.PixelDelta,
	}
}

// Check compares the screen after an action against its reference (if one is
// named and exists for this geometry) or against the before-shot. before and
// after are PNG-encoded captures.
func (v *Verifier) Check(ctx context.Context, goal, deviceID, refName string, before, after []byte) types.VerificationResult {
	log := logging.Get(logging.CategoryVerify)
	now := time.Now()

	res := types.VerificationResult{
		SSIM: types.SSIMResult{Threshold: v.ssimThreshold, ReferenceName: refName},
	}

	afterImg, err := decodePNG(after)
	if err != nil {
		res.Error = fmt.Sprintf("decoding after-shot: %v", err)
		return res
	}

	var ref image.Image
	if refName != "" {
		var refPath string
		ref, refPath, err = v.refs.Load(deviceID, refName)
		if err != nil {
			log.Warnw("reference unreadable, falling back to pixel diff",
				"reference", refName, "err", err)
		} else if ref != nil {
			log.Debugw("reference loaded", "reference", refName, "path", refPath)
		}
	}

	if ref != nil {
		res.SSIM.ReferenceFound = true
		score, err := SSIM(ref, afterImg)
		if err != nil {
			res.Error = fmt.Sprintf("ssim: %v", err)
			return res
		}
		res.SSIM.Similarity = score
		res.SSIM.Passed = score >= v.ssimThreshold
		res.OverallPassed = res.SSIM.Passed

		if path, err := writeComparison(v.dataDir, ref, afterImg, now); err != nil {
			log.Warnw("comparison image not written", "err", err)
		} else {
			res.ComparisonPath = path
		}
		log.Infow("ssim verification",
			"reference", refName,
			"similarity", fmt.Sprintf("%.4f", score),
			"threshold", v.ssimThreshold,
			"passed", res.SSIM.Passed)
	} else {
		beforeImg, err := decodePNG(before)
		if err != nil {
			res.Error = fmt.Sprintf("decoding before-shot: %v", err)
			return res
		}
		pix, err := PixelDiff(beforeImg, afterImg, v.pixelDelta, v.changeThreshold)
		if err != nil {
			res.Error = fmt.Sprintf("pixel diff: %v", err)
			return res
		}
		res.Pixel = pix
		res.OverallPassed = pix.Changed
		log.Infow("pixel-diff verification",
			"change_pct", fmt.Sprintf("%.2f", pix.ChangePercentage),
			"threshold", v.changeThreshold,
			"changed", pix.Changed)
	}

	if v.diag != nil {
		verdict, err := v.diag.VerifyGoal(ctx, goal, before, after)
		if err != nil {
			log.Debugw("model diagnostic unavailable", "err", err)
		} else {
			verdict.Available = true
			res.AI = verdict
			if verdict.Success != res.OverallPassed {
				log.Warnw("model diagnostic disagrees with verdict",
					"verdict", res.OverallPassed,
					"model", verdict.Success,
					"reasoning", verdict.Reasoning)
			}
		}
	}
	return res
}

// CaptureReference stores the given PNG as the named reference for deviceID.
func (v *Verifier) CaptureReference(deviceID, name string, shot []byte) (string, error) {
	return v.refs.Save(deviceID, name, shot)
}

func decodePNG(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	return png.Decode(bytes.NewReader(data))
}
