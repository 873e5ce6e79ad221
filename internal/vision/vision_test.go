package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"

	"roadtest/internal/config"
	"roadtest/internal/types"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeOCR struct {
	regions []types.TextRegion
	calls   int
}

func (f *fakeOCR) Recognize(_ context.Context, _ image.Image, mode LayoutMode) ([]types.TextRegion, error) {
	f.calls++
	// Only answer on the first layout mode so candidates are not multiplied
	// across variants.
	if mode != LayoutAuto || f.calls > 1 {
		return nil, nil
	}
	return f.regions, nil
}

func (f *fakeOCR) Close() error { return nil }

type fakeOracle struct {
	texted     bool
	textedErr  error
	located    *types.Coordinate
	locateErr  error
	labelCalls int
	locates    int
}

func (f *fakeOracle) HasTextLabel(context.Context, string, []byte) (bool, error) {
	f.labelCalls++
	return f.texted, f.textedErr
}

func (f *fakeOracle) LocateIcon(context.Context, string, []byte, int, int) (*types.Coordinate, error) {
	f.locates++
	return f.located, f.locateErr
}

func (f *fakeOracle) AnalyzeScreen(context.Context, []byte, string) (string, error) {
	return "a screen", nil
}

type fakeProfiles struct {
	entries map[string]types.Coordinate
	learned map[string]types.Coordinate
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		entries: map[string]types.Coordinate{},
		learned: map[string]types.Coordinate{},
	}
}

func (f *fakeProfiles) GetCoordinate(deviceID, name string) (*types.Coordinate, bool) {
	c, ok := f.entries[deviceID+"/"+types.NormalizeIconName(name)]
	if !ok {
		return nil, false
	}
	return &c, true
}

func (f *fakeProfiles) SetCoordinate(w, h int, name string, x, y int, src types.CoordinateSource) error {
	key := types.DeviceID(w, h) + "/" + types.NormalizeIconName(name)
	f.learned[key] = types.Coordinate{X: x, Y: y, Source: src}
	return nil
}

func screenshotPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(w, h, color.NRGBA{40, 40, 40, 255})); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newResolver(profiles ProfileLookup, oracle ModelOracle, ocr OCREngine) *Resolver {
	return New(config.DefaultConfig(), profiles, oracle, ocr)
}

// =============================================================================
// RESOLUTION PRECEDENCE
// =============================================================================

func TestProfileHitShortCircuits(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.entries["device_640x480/settings"] = types.Coordinate{
		X: 850, Y: 450, Source: types.SourceDeviceProfile, Confidence: 100,
	}
	oracle := &fakeOracle{}
	ocr := &fakeOCR{}
	r := newResolver(profiles, oracle, ocr)

	coord, err := r.FindElement(context.Background(), screenshotPNG(t, 640, 480), "Settings")
	if err != nil {
		t.Fatal(err)
	}
	if coord == nil || coord.X != 850 {
		t.Fatalf("coord = %+v", coord)
	}
	if oracle.labelCalls != 0 || ocr.calls != 0 {
		t.Error("profile hit must not consult model or OCR")
	}
}

func TestOCRHitLearnsIntoProfile(t *testing.T) {
	profiles := newFakeProfiles()
	ocr := &fakeOCR{regions: []types.TextRegion{
		{Text: "Settings", X: 840, Y: 440, W: 20, H: 20, Confidence: 90},
	}}
	r := newResolver(profiles, &fakeOracle{texted: true}, ocr)

	coord, err := r.FindElement(context.Background(), screenshotPNG(t, 1920, 1080), "Settings")
	if err != nil {
		t.Fatal(err)
	}
	if coord == nil || coord.Source != types.SourceOCR {
		t.Fatalf("coord = %+v", coord)
	}
	learned, ok := profiles.learned["device_1920x1080/settings"]
	if !ok {
		t.Fatal("resolution not written back to the profile")
	}
	if learned.X != coord.X || learned.Y != coord.Y {
		t.Errorf("learned %+v, resolved %+v", learned, coord)
	}
}

func TestOCRMissFallsThroughToModel(t *testing.T) {
	oracle := &fakeOracle{
		texted:  true,
		located: &types.Coordinate{X: 100, Y: 200, Source: types.SourceModel, Confidence: 80},
	}
	r := newResolver(newFakeProfiles(), oracle, &fakeOCR{})

	coord, err := r.FindElement(context.Background(), screenshotPNG(t, 640, 480), "Settings")
	if err != nil {
		t.Fatal(err)
	}
	if coord == nil || coord.Source != types.SourceModel {
		t.Fatalf("expected model fallback, got %+v", coord)
	}
	if oracle.locates != 1 {
		t.Errorf("model locator called %d times", oracle.locates)
	}
}

func TestRoutingErrorDefaultsToTexted(t *testing.T) {
	ocr := &fakeOCR{regions: []types.TextRegion{
		{Text: "Media", X: 50, Y: 50, W: 30, H: 10, Confidence: 85},
	}}
	oracle := &fakeOracle{textedErr: context.DeadlineExceeded}
	r := newResolver(newFakeProfiles(), oracle, ocr)

	coord, err := r.FindElement(context.Background(), screenshotPNG(t, 640, 480), "Media")
	if err != nil {
		t.Fatal(err)
	}
	if coord == nil || coord.Source != types.SourceOCR {
		t.Fatalf("routing failure must still try OCR, got %+v", coord)
	}
}

func TestAllStrategiesMissReturnsNil(t *testing.T) {
	r := newResolver(newFakeProfiles(), &fakeOracle{texted: true}, &fakeOCR{})
	coord, err := r.FindElement(context.Background(), screenshotPNG(t, 640, 480), "Mystery Button")
	if err != nil {
		t.Fatal(err)
	}
	if coord != nil {
		t.Errorf("expected nil on total miss, got %+v", coord)
	}
}

// =============================================================================
// TEXT MATCHING AND SCORING
// =============================================================================

func TestMatchTargetExactAndFuzzy(t *testing.T) {
	if sim, exact, ok := matchTarget("Settings", "settings", 0.85); !ok || !exact || sim != 1 {
		t.Errorf("case-insensitive exact: sim=%v exact=%v ok=%v", sim, exact, ok)
	}
	if _, exact, ok := matchTarget("Settngs", "Settings", 0.85); !ok || exact {
		t.Error("near-miss should fuzzy-match, not exact-match")
	}
	if _, _, ok := matchTarget("Media", "Settings", 0.85); ok {
		t.Error("unrelated text must not match")
	}
}

func TestSelectBestPrefersExactOverFuzzy(t *testing.T) {
	cands := []candidate{
		{region: types.TextRegion{Text: "Settngs", X: 100, Y: 100, W: 20, H: 10, Confidence: 99}, similarity: 0.9, order: 0},
		{region: types.TextRegion{Text: "Settings", X: 110, Y: 100, W: 20, H: 10, Confidence: 70}, similarity: 1, exact: true, order: 1},
	}
	best, ok := selectBest(cands, 640, 480)
	if !ok {
		t.Fatal("expected a winner")
	}
	if !best.exact {
		t.Error("exact match must beat a higher-confidence fuzzy match")
	}
}

func TestSelectBestDiscardsOutliers(t *testing.T) {
	// Two agreeing hits and one far away; the outlier must not win even
	// with top confidence.
	cands := []candidate{
		{region: types.TextRegion{Text: "a", X: 100, Y: 100, Confidence: 80}, similarity: 0.9, order: 0},
		{region: types.TextRegion{Text: "a", X: 104, Y: 102, Confidence: 82}, similarity: 0.9, order: 1},
		{region: types.TextRegion{Text: "a", X: 350, Y: 250, Confidence: 85}, similarity: 0.9, order: 2},
	}
	best, ok := selectBest(cands, 640, 480)
	if !ok {
		t.Fatal("expected a winner")
	}
	if best.region.X == 350 {
		t.Error("outlier beyond 15% of the diagonal must be discarded")
	}
}

func TestSelectBestTieBreaksByConfidence(t *testing.T) {
	cands := []candidate{
		{region: types.TextRegion{Text: "a", X: 100, Y: 100, Confidence: 70}, similarity: 0.9, order: 0},
		{region: types.TextRegion{Text: "a", X: 100, Y: 100, Confidence: 90}, similarity: 0.9, order: 1},
	}
	best, ok := selectBest(cands, 640, 480)
	if !ok {
		t.Fatal("expected a winner")
	}
	if best.region.Confidence != 90 {
		t.Errorf("confidence tie-break picked %v", best.region.Confidence)
	}
}

func TestDedupeRegionsKeepsStrongest(t *testing.T) {
	cands := []candidate{
		{region: types.TextRegion{Text: "Media", X: 100, Y: 100, W: 10, H: 10, Confidence: 60}, order: 0},
		{region: types.TextRegion{Text: "media", X: 102, Y: 101, W: 10, H: 10, Confidence: 88}, order: 1},
	}
	out := dedupeRegions(cands)
	if len(out) != 1 {
		t.Fatalf("got %d candidates, want 1", len(out))
	}
	if out[0].region.Confidence != 88 {
		t.Errorf("kept confidence %v, want 88", out[0].region.Confidence)
	}
}

// =============================================================================
// PREPROCESSING
// =============================================================================

func TestOtsuSeparatesBimodal(t *testing.T) {
	img := imaging.New(32, 32, color.NRGBA{20, 20, 20, 255})
	for y := 0; y < 32; y++ {
		for x := 16; x < 32; x++ {
			img.Set(x, y, color.NRGBA{230, 230, 230, 255})
		}
	}
	th := otsuThreshold(img)
	if th < 20 || th > 230 {
		t.Errorf("threshold %d outside the bimodal gap", th)
	}

	bin := binarize(img, th)
	if bin.Pix[0] != 0 {
		t.Error("dark half should binarize to black")
	}
	off := 0*bin.Stride + 20*4
	if bin.Pix[off] != 255 {
		t.Error("light half should binarize to white")
	}
}

func TestPreprocessVariantsCount(t *testing.T) {
	vs := preprocessVariants(imaging.New(16, 16, color.NRGBA{128, 128, 128, 255}))
	if len(vs) != 5 {
		t.Fatalf("got %d variants, want 5", len(vs))
	}
	for _, v := range vs {
		if v.img == nil {
			t.Errorf("variant %s has nil image", v.name)
		}
	}
}

// =============================================================================
// GRID DETECTION
// =============================================================================

func drawDot(img *image.NRGBA, cx, cy, r int, c color.NRGBA) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				img.Set(x, y, c)
			}
		}
	}
}

func TestDetectLauncherGridFindsDotPattern(t *testing.T) {
	img := imaging.New(320, 200, color.NRGBA{235, 235, 235, 255})
	// 3x3 dark dots centered in the bottom navigation bar.
	dot := color.NRGBA{15, 15, 15, 255}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			drawDot(img, 150+col*10, 175+row*10, 4, dot)
		}
	}

	coord, ok := detectLauncherGrid(img)
	if !ok {
		t.Fatal("grid not detected")
	}
	if coord.Source != types.SourceGrid {
		t.Errorf("source = %q", coord.Source)
	}
	if abs(coord.X-160) > 15 || abs(coord.Y-185) > 15 {
		t.Errorf("centroid %v, want near (160, 185)", coord)
	}
}

func TestDetectLauncherGridRejectsEmptyScreen(t *testing.T) {
	img := imaging.New(320, 200, color.NRGBA{40, 40, 40, 255})
	if _, ok := detectLauncherGrid(img); ok {
		t.Error("blank screen must not produce a grid")
	}
}

func TestGridFromClusterUniformity(t *testing.T) {
	uniform := make([]circle, 9)
	for i := range uniform {
		uniform[i] = circle{x: i * 10, y: 0, r: 5}
	}
	if _, ok := gridFromCluster(uniform); !ok {
		t.Error("uniform radii cluster rejected")
	}

	ragged := make([]circle, 9)
	for i := range ragged {
		ragged[i] = circle{x: i * 10, y: 0, r: 1 + i*4}
	}
	if _, ok := gridFromCluster(ragged); ok {
		t.Error("wildly varying radii must fail the uniformity bar")
	}

	if _, ok := gridFromCluster(uniform[:3]); ok {
		t.Error("too few circles must not form a grid")
	}
}

func TestDBSCANSeparatesClustersAndNoise(t *testing.T) {
	var points []circle
	for i := 0; i < 5; i++ {
		points = append(points, circle{x: 10 + i, y: 10, r: 3})
	}
	for i := 0; i < 5; i++ {
		points = append(points, circle{x: 200 + i, y: 200, r: 3})
	}
	points = append(points, circle{x: 500, y: 500, r: 3}) // noise

	clusters := dbscan(points, 5, 3)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	if len(clusters[0])+len(clusters[1]) != 10 {
		t.Errorf("noise point leaked into a cluster: %d + %d", len(clusters[0]), len(clusters[1]))
	}
}

func TestIsLauncherDescription(t *testing.T) {
	for _, s := range []string{"open app launcher", "the App Drawer", "tap the grid icon"} {
		if !isLauncherDescription(s) {
			t.Errorf("%q should route to the grid detector", s)
		}
	}
	if isLauncherDescription("tap Settings") {
		t.Error("plain element must not route to the grid detector")
	}
}
