package vision

import (
	"math"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"roadtest/internal/types"
)

// candidate is one OCR hit that matched the target text, tagged with its
// match quality and the order it was collected in.
type candidate struct {
	region     types.TextRegion
	similarity float64 // 0..1
	exact      bool
	order      int
}

// maxCentroidFraction bounds how far a candidate may sit from the weighted
// centroid, as a fraction of the image diagonal.
const maxCentroidFraction = 0.15

func matchTarget(text, target string, fuzzyThreshold float64) (float64, bool, bool) {
	a := strings.ToLower(strings.TrimSpace(text))
	b := strings.ToLower(strings.TrimSpace(target))
	if a == "" || b == "" {
		return 0, false, false
	}
	if a == b {
		return 1, true, true
	}
	sim := strutil.Similarity(a, b, metrics.NewRatcliffObershelp())
	if sim >= fuzzyThreshold {
		return sim, false, true
	}
	return sim, false, false
}

// selectBest clusters matched candidates around their weighted centroid,
// discards outliers beyond 15% of the image diagonal, and picks the winner
// by composite score. Exact matches always beat fuzzy ones; remaining ties
// fall to confidence, then centroid distance, then collection order.
func selectBest(cands []candidate, width, height int) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}

	var cx, cy, wSum float64
	for _, c := range cands {
		x, y := c.region.Center()
		w := c.region.Confidence * c.similarity
		if w <= 0 {
			w = 1e-6
		}
		cx += float64(x) * w
		cy += float64(y) * w
		wSum += w
	}
	cx /= wSum
	cy /= wSum

	diag := math.Hypot(float64(width), float64(height))
	maxDist := maxCentroidFraction * diag

	type scored struct {
		candidate
		dist  float64
		score float64
	}
	var kept []scored
	for _, c := range cands {
		x, y := c.region.Center()
		dist := math.Hypot(float64(x)-cx, float64(y)-cy)
		if dist > maxDist {
			continue
		}
		distScore := 1.0
		if maxDist > 0 {
			distScore = 1 - dist/maxDist
		}
		kept = append(kept, scored{
			candidate: c,
			dist:      dist,
			score:     0.5*c.region.Confidence + 0.3*c.similarity*100 + 20*distScore,
		})
	}
	if len(kept) == 0 {
		return candidate{}, false
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.exact != b.exact {
			return a.exact
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if a.region.Confidence != b.region.Confidence {
			return a.region.Confidence > b.region.Confidence
		}
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		return a.order < b.order
	})
	return kept[0].candidate, true
}

// dedupeRegions collapses near-identical hits produced by different
// preprocessing variants, keeping the highest-confidence copy.
func dedupeRegions(cands []candidate) []candidate {
	const tol = 6 // px
	var out []candidate
	for _, c := range cands {
		merged := false
		for i := range out {
			ox, oy := out[i].region.Center()
			x, y := c.region.Center()
			if abs(ox-x) <= tol && abs(oy-y) <= tol &&
				strings.EqualFold(out[i].region.Text, c.region.Text) {
				if c.region.Confidence > out[i].region.Confidence {
					keepOrder := out[i].order
					out[i] = c
					out[i].order = keepOrder
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, c)
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
