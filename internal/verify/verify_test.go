package verify

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"roadtest/internal/config"
	"roadtest/internal/types"
)

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := imaging.New(w, h, c)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// splitImage is half dark, half light, so it correlates poorly with a solid.
func splitImage(w, h int) *image.NRGBA {
	img := imaging.New(w, h, color.NRGBA{10, 10, 10, 255})
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			img.Set(x, y, color.NRGBA{240, 240, 240, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSSIMIdenticalImages(t *testing.T) {
	img := splitImage(64, 64)
	score, err := SSIM(img, img)
	if err != nil {
		t.Fatal(err)
	}
	if score < 0.999 {
		t.Errorf("identical images scored %v, want ~1.0", score)
	}
}

func TestSSIMDissimilarImages(t *testing.T) {
	a := splitImage(64, 64)
	b := imaging.New(64, 64, color.NRGBA{128, 128, 128, 255})
	score, err := SSIM(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if score > 0.5 {
		t.Errorf("dissimilar images scored %v, want low", score)
	}
}

func TestSSIMResizesSecondImage(t *testing.T) {
	a := splitImage(64, 64)
	b := splitImage(128, 128)
	score, err := SSIM(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if score < 0.8 {
		t.Errorf("same content at different scales scored %v", score)
	}
}

func TestSSIMRejectsTinyImages(t *testing.T) {
	a := imaging.New(4, 4, color.NRGBA{})
	if _, err := SSIM(a, a); err == nil {
		t.Error("expected error for sub-window image")
	}
}

func TestPixelDiffUnchanged(t *testing.T) {
	img := splitImage(32, 32)
	res, err := PixelDiff(img, img, 30, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed || res.ChangePercentage != 0 {
		t.Errorf("identical images reported change: %+v", res)
	}
}

func TestPixelDiffChanged(t *testing.T) {
	before := imaging.New(32, 32, color.NRGBA{0, 0, 0, 255})
	after := imaging.New(32, 32, color.NRGBA{255, 255, 255, 255})
	res, err := PixelDiff(before, after, 30, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed {
		t.Errorf("full-screen change not detected: %+v", res)
	}
	if res.ChangePercentage < 99 {
		t.Errorf("change pct = %v, want ~100", res.ChangePercentage)
	}
}

func TestPixelDiffBelowDeltaIgnored(t *testing.T) {
	before := imaging.New(32, 32, color.NRGBA{100, 100, 100, 255})
	after := imaging.New(32, 32, color.NRGBA{110, 110, 110, 255})
	res, err := PixelDiff(before, after, 30, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Errorf("sub-delta drift must not count as change: %+v", res)
	}
}

func TestReferenceStoreRoundTrip(t *testing.T) {
	refs, err := NewReferenceStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	shot := solidPNG(t, 16, 16, color.NRGBA{1, 2, 3, 255})

	path, err := refs.Save("device_1920x1080", "Settings Opened", shot)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, filepath.Join("device_1920x1080", "settings_opened.png")) {
		t.Errorf("path = %q, want sanitized name under device dir", path)
	}

	img, loaded, err := refs.Load("device_1920x1080", "settings opened")
	if err != nil {
		t.Fatal(err)
	}
	if img == nil || loaded == "" {
		t.Fatal("expected stored reference")
	}

	names, err := refs.List("device_1920x1080")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "settings_opened" {
		t.Errorf("names = %v", names)
	}
}

func TestReferenceStoreMissingIsNotError(t *testing.T) {
	refs, err := NewReferenceStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	img, path, err := refs.Load("device_1920x1080", "absent")
	if err != nil {
		t.Fatal(err)
	}
	if img != nil || path != "" {
		t.Error("absent reference should load as nil")
	}
}

func newVerifier(t *testing.T, diag Diagnostician) (*Verifier, *ReferenceStore, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	refs, err := NewReferenceStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, refs, diag), refs, dir
}

func TestCheckWithReferencePasses(t *testing.T) {
	v, refs, _ := newVerifier(t, nil)
	shot := encodePNG(t, splitImage(64, 64))
	if _, err := refs.Save("device_64x64", "screen_opened", shot); err != nil {
		t.Fatal(err)
	}

	res := v.Check(context.Background(), "open screen", "device_64x64", "screen_opened", nil, shot)
	if !res.OverallPassed {
		t.Errorf("matching capture failed verification: %+v", res)
	}
	if !res.SSIM.ReferenceFound || !res.SSIM.Passed {
		t.Errorf("ssim result = %+v", res.SSIM)
	}
	if res.ComparisonPath == "" {
		t.Error("comparison image not recorded")
	}
}

func TestCheckWithReferenceFails(t *testing.T) {
	v, refs, _ := newVerifier(t, nil)
	ref := encodePNG(t, splitImage(64, 64))
	if _, err := refs.Save("device_64x64", "screen_opened", ref); err != nil {
		t.Fatal(err)
	}

	after := solidPNG(t, 64, 64, color.NRGBA{128, 128, 128, 255})
	res := v.Check(context.Background(), "open screen", "device_64x64", "screen_opened", nil, after)
	if res.OverallPassed {
		t.Errorf("mismatching capture passed: %+v", res)
	}
	if res.SSIM.Similarity >= res.SSIM.Threshold {
		t.Errorf("similarity %v above threshold %v", res.SSIM.Similarity, res.SSIM.Threshold)
	}
}

func TestCheckWithoutReferenceUsesPixelDiff(t *testing.T) {
	v, _, _ := newVerifier(t, nil)
	before := solidPNG(t, 64, 64, color.NRGBA{0, 0, 0, 255})
	after := solidPNG(t, 64, 64, color.NRGBA{255, 255, 255, 255})

	res := v.Check(context.Background(), "tap", "device_64x64", "", before, after)
	if !res.OverallPassed {
		t.Errorf("changed screen failed pixel verification: %+v", res)
	}
	if res.SSIM.ReferenceFound {
		t.Error("no reference was stored, ReferenceFound must be false")
	}

	same := v.Check(context.Background(), "tap", "device_64x64", "", before, before)
	if same.OverallPassed {
		t.Error("unchanged screen must fail without a reference")
	}
}

type fixedDiag struct{ verdict types.AIVerdict }

func (d fixedDiag) VerifyGoal(context.Context, string, []byte, []byte) (types.AIVerdict, error) {
	return d.verdict, nil
}

func TestDiagnosticNeverOverridesVerdict(t *testing.T) {
	// Model says failure, SSIM says pass. SSIM wins.
	v, refs, _ := newVerifier(t, fixedDiag{types.AIVerdict{Success: false, Reasoning: "looks wrong"}})
	shot := encodePNG(t, splitImage(64, 64))
	if _, err := refs.Save("device_64x64", "screen_opened", shot); err != nil {
		t.Fatal(err)
	}

	res := v.Check(context.Background(), "open", "device_64x64", "screen_opened", nil, shot)
	if !res.OverallPassed {
		t.Error("model verdict must not override the SSIM pass")
	}
	if !res.AI.Available || res.AI.Success {
		t.Errorf("diagnostic not recorded as-is: %+v", res.AI)
	}
}
