package vision

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"roadtest/internal/types"
)

// The app-launcher affordance on automotive head units is a 3x3 grid of
// small circular dots parked in a navigation bar. The detector scans each
// bar candidate region, finds circles by Hough voting over edge gradients,
// clusters them, and accepts a cluster whose radii are uniform enough to be
// a deliberate glyph rather than noise.

type circle struct {
	x, y, r int
	votes   int
}

const (
	navBarFraction    = 0.15
	minGridCircles    = 5
	maxGridCircles    = 12
	minRadiusUniform  = 0.5
	houghRadiusMin    = 3
	houghRadiusMax    = 14
	edgeGradThreshold = 60.0
)

// detectLauncherGrid returns the centroid of a detected 3x3 dot grid, or
// false when no candidate region contains one.
func detectLauncherGrid(src image.Image) (*types.Coordinate, bool) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, false
	}

	barH := int(float64(h) * navBarFraction)
	barW := int(float64(w) * navBarFraction)
	regions := []image.Rectangle{
		image.Rect(0, h-barH, w, h), // bottom
		image.Rect(0, 0, w, barH),   // top
		image.Rect(0, 0, barW, h),   // left
		image.Rect(w-barW, 0, w, h), // right
	}

	gray := imaging.Grayscale(src)
	renditions := []*image.NRGBA{
		gray,
		imaging.Invert(gray),
		binarize(gray, otsuThreshold(gray)),
	}

	for _, region := range regions {
		var circles []circle
		for _, r := range renditions {
			crop := imaging.Crop(r, region)
			for _, c := range houghCircles(crop) {
				c.x += region.Min.X
				c.y += region.Min.Y
				circles = append(circles, c)
			}
		}
		// The renditions mostly re-detect the same dots; collapse them so
		// duplicates do not inflate the cluster size.
		circles = suppressOverlaps(circles)
		if len(circles) < minGridCircles {
			continue
		}

		eps := 3.0 * medianRadius(circles)
		for _, cluster := range dbscan(circles, eps, 3) {
			if coord, ok := gridFromCluster(cluster); ok {
				return coord, true
			}
		}
	}
	return nil, false
}

func gridFromCluster(cluster []circle) (*types.Coordinate, bool) {
	if len(cluster) < minGridCircles || len(cluster) > maxGridCircles {
		return nil, false
	}
	var mean float64
	for _, c := range cluster {
		mean += float64(c.r)
	}
	mean /= float64(len(cluster))
	if mean == 0 {
		return nil, false
	}
	var variance float64
	for _, c := range cluster {
		d := float64(c.r) - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(cluster)))
	uniformity := 1 - stddev/mean
	if uniformity < minRadiusUniform {
		return nil, false
	}

	var cx, cy int
	for _, c := range cluster {
		cx += c.x
		cy += c.y
	}
	n := len(cluster)
	return &types.Coordinate{
		X:          cx / n,
		Y:          cy / n,
		Source:     types.SourceGrid,
		Confidence: math.Min(100, uniformity*100),
	}, true
}

// houghCircles finds small circles by voting along the gradient direction of
// strong edge pixels, one accumulator per radius.
func houghCircles(img *image.NRGBA) []circle {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 2*houghRadiusMax || h < 2*houghRadiusMin {
		return nil
	}

	luma := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			luma[y*w+x] = float64(img.Pix[y*img.Stride+x*4])
		}
	}

	type edge struct {
		x, y   int
		gx, gy float64
	}
	var edges []edge
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := luma[y*w+x+1] - luma[y*w+x-1]
			gy := luma[(y+1)*w+x] - luma[(y-1)*w+x]
			if math.Hypot(gx, gy) >= edgeGradThreshold {
				mag := math.Hypot(gx, gy)
				edges = append(edges, edge{x, y, gx / mag, gy / mag})
			}
		}
	}
	if len(edges) == 0 {
		return nil
	}

	var found []circle
	acc := make([]int, w*h)
	for r := houghRadiusMin; r <= houghRadiusMax; r++ {
		for i := range acc {
			acc[i] = 0
		}
		fr := float64(r)
		for _, e := range edges {
			// Centers lie along the gradient on either side of the edge.
			for _, sign := range [2]float64{1, -1} {
				cx := e.x + int(math.Round(sign*e.gx*fr))
				cy := e.y + int(math.Round(sign*e.gy*fr))
				if cx >= 0 && cx < w && cy >= 0 && cy < h {
					acc[cy*w+cx]++
				}
			}
		}

		minVotes := int(math.Max(6, 2*math.Pi*fr*0.4))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := acc[y*w+x]
				if v < minVotes || !isLocalMax(acc, w, h, x, y) {
					continue
				}
				found = append(found, circle{x: x, y: y, r: r, votes: v})
			}
		}
	}
	return suppressOverlaps(found)
}

func isLocalMax(acc []int, w, h, x, y int) bool {
	v := acc[y*w+x]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			if acc[ny*w+nx] > v {
				return false
			}
		}
	}
	return true
}

// suppressOverlaps keeps the strongest circle among detections whose centers
// nearly coincide across radii.
func suppressOverlaps(circles []circle) []circle {
	sort.Slice(circles, func(i, j int) bool { return circles[i].votes > circles[j].votes })
	var kept []circle
	for _, c := range circles {
		overlaps := false
		for _, k := range kept {
			if math.Hypot(float64(c.x-k.x), float64(c.y-k.y)) < float64(k.r) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}

// dbscan is a density clustering over circle centers. Noise points are
// dropped.
func dbscan(points []circle, eps float64, minPts int) [][]circle {
	const (
		unvisited = 0
		noise     = -1
	)
	labels := make([]int, len(points))
	clusterID := 0

	neighbors := func(i int) []int {
		var out []int
		for j := range points {
			if i == j {
				continue
			}
			d := math.Hypot(float64(points[i].x-points[j].x), float64(points[i].y-points[j].y))
			if d <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		nbrs := neighbors(i)
		if len(nbrs)+1 < minPts {
			labels[i] = noise
			continue
		}
		clusterID++
		labels[i] = clusterID
		queue := append([]int(nil), nbrs...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				labels[j] = clusterID
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = clusterID
			jn := neighbors(j)
			if len(jn)+1 >= minPts {
				queue = append(queue, jn...)
			}
		}
	}

	clusters := make([][]circle, clusterID)
	for i, label := range labels {
		if label > 0 {
			clusters[label-1] = append(clusters[label-1], points[i])
		}
	}
	return clusters
}

func medianRadius(circles []circle) float64 {
	radii := make([]int, len(circles))
	for i, c := range circles {
		radii[i] = c.r
	}
	sort.Ints(radii)
	return float64(radii[len(radii)/2])
}
