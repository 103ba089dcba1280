// Package blob detects dark, roughly circular blobs in images and
// annotates them against a segmentation mask. The detector follows the
// classic multi-threshold scheme: binarize the blurred grayscale image
// at a sweep of thresholds, extract connected components at each,
// filter them by area/circularity/inertia/convexity, and keep blobs
// that repeat across enough thresholds.
package blob

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// Params is the detector tuning. Zero values are not useful; start
// from DefaultParams.
type Params struct {
	FilterByArea        bool
	MinArea             float64
	MaxArea             float64
	MinDistBetweenBlobs float64

	FilterByCircularity bool
	MinCircularity      float64

	// FilterByColor selects blob polarity: BlobColor 0 keeps dark
	// blobs, 255 light ones. With the filter off, dark blobs are
	// detected.
	FilterByColor bool
	BlobColor     int

	MinThreshold  float64
	MaxThreshold  float64
	ThresholdStep float64

	FilterByInertia bool
	MinInertiaRatio float64

	FilterByConvexity bool
	MinConvexity      float64

	MinRepeatability int

	GaussianBlurKernelSize int
}

// DefaultParams mirrors the tuning the labeling workflow ships with.
func DefaultParams() Params {
	return Params{
		FilterByArea:        true,
		MinArea:             100,
		MaxArea:             10000000,
		MinDistBetweenBlobs: 10,

		FilterByCircularity: true,
		MinCircularity:      0.2,

		FilterByColor: true,
		BlobColor:     0,
		MinThreshold:  50,
		MaxThreshold:  220,
		ThresholdStep: 10,

		FilterByInertia: true,
		MinInertiaRatio: 0.2,

		FilterByConvexity: true,
		MinConvexity:      0.1,

		MinRepeatability: 2,

		GaussianBlurKernelSize: 3,
	}
}

// Keypoint is one detected blob: its center and an estimated diameter.
type Keypoint struct {
	X    int
	Y    int
	Size float64
}

// Detector finds blobs according to its params.
type Detector struct {
	params Params
}

// New creates a Detector with default tuning.
func New() *Detector {
	return &Detector{params: DefaultParams()}
}

// NewWithParams creates a Detector with custom tuning.
func NewWithParams(params Params) *Detector {
	return &Detector{params: params}
}

// DetectFile loads an image from disk and runs detection on it.
func (d *Detector) DetectFile(path string) ([]Keypoint, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", path, err)
	}
	return d.Detect(img)
}

// Detect runs the threshold sweep on an image and returns the stable
// blobs, ordered left to right.
func (d *Detector) Detect(img image.Image) ([]Keypoint, error) {
	p := d.params
	if p.ThresholdStep <= 0 || p.MinThreshold >= p.MaxThreshold {
		return nil, fmt.Errorf("invalid threshold sweep %v..%v step %v", p.MinThreshold, p.MaxThreshold, p.ThresholdStep)
	}

	gray := grayscale(blur(img, p.GaussianBlurKernelSize))

	// Each series tracks one physical blob across the threshold sweep.
	var series []*blobSeries
	for t := p.MinThreshold; t <= p.MaxThreshold; t += p.ThresholdStep {
		centers := d.componentsAt(gray, t)
		for _, c := range centers {
			merged := false
			for _, s := range series {
				last := s.centers[len(s.centers)-1]
				if dist(last.x, last.y, c.x, c.y) <= p.MinDistBetweenBlobs {
					s.centers = append(s.centers, c)
					merged = true
					break
				}
			}
			if !merged {
				series = append(series, &blobSeries{centers: []center{c}})
			}
		}
	}

	var keypoints []Keypoint
	for _, s := range series {
		if len(s.centers) < p.MinRepeatability {
			continue
		}
		keypoints = append(keypoints, s.keypoint())
	}

	sort.Slice(keypoints, func(i, j int) bool {
		if keypoints[i].X != keypoints[j].X {
			return keypoints[i].X < keypoints[j].X
		}
		return keypoints[i].Y < keypoints[j].Y
	})
	return keypoints, nil
}

type center struct {
	x, y float64
	size float64
}

type blobSeries struct {
	centers []center
}

// keypoint collapses a series into one detection: averaged center,
// median size.
func (s *blobSeries) keypoint() Keypoint {
	var sx, sy float64
	sizes := make([]float64, len(s.centers))
	for i, c := range s.centers {
		sx += c.x
		sy += c.y
		sizes[i] = c.size
	}
	n := float64(len(s.centers))
	sort.Float64s(sizes)
	return Keypoint{
		X:    int(math.Round(sx / n)),
		Y:    int(math.Round(sy / n)),
		Size: sizes[len(sizes)/2],
	}
}

// componentsAt binarizes the grayscale plane at threshold t, extracts
// 8-connected components of the foreground polarity, and returns the
// centers of those passing every enabled filter.
func (d *Detector) componentsAt(g *grayPlane, t float64) []center {
	p := d.params
	lightBlobs := p.FilterByColor && p.BlobColor == 255

	foreground := func(v float64) bool {
		if lightBlobs {
			return v > t
		}
		return v < t
	}

	visited := make([]bool, g.w*g.h)
	var centers []center

	for start := 0; start < len(g.pix); start++ {
		if visited[start] || !foreground(g.pix[start]) {
			continue
		}

		// Flood fill one component.
		var pts []point
		stack := []int{start}
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%g.w, idx/g.w
			pts = append(pts, point{x, y})

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= g.w || ny >= g.h {
						continue
					}
					nidx := ny*g.w + nx
					if !visited[nidx] && foreground(g.pix[nidx]) {
						visited[nidx] = true
						stack = append(stack, nidx)
					}
				}
			}
		}

		if c, ok := d.evaluate(g, pts, foreground); ok {
			centers = append(centers, c)
		}
	}
	return centers
}

type point struct{ x, y int }

// evaluate applies the enabled shape filters to one component.
func (d *Detector) evaluate(g *grayPlane, pts []point, foreground func(float64) bool) (center, bool) {
	p := d.params
	area := float64(len(pts))

	if p.FilterByArea && (area < p.MinArea || area > p.MaxArea) {
		return center{}, false
	}

	var cx, cy float64
	for _, pt := range pts {
		cx += float64(pt.x)
		cy += float64(pt.y)
	}
	cx /= area
	cy /= area

	if p.FilterByCircularity {
		per := perimeter(g, pts, foreground)
		if per > 0 {
			circularity := 4 * math.Pi * area / (per * per)
			if circularity < p.MinCircularity {
				return center{}, false
			}
		}
	}

	if p.FilterByInertia {
		if inertiaRatio(pts, cx, cy) < p.MinInertiaRatio {
			return center{}, false
		}
	}

	if p.FilterByConvexity {
		hull := hullArea(pts)
		if hull > 0 && area/hull < p.MinConvexity {
			return center{}, false
		}
	}

	return center{x: cx, y: cy, size: 2 * math.Sqrt(area/math.Pi)}, true
}

// perimeter estimates contour length from the crack length (exposed
// pixel edges), corrected by pi/4 toward the smooth contour length.
func perimeter(g *grayPlane, pts []point, foreground func(float64) bool) float64 {
	cracks := 0
	for _, pt := range pts {
		for _, n := range [4]point{{pt.x - 1, pt.y}, {pt.x + 1, pt.y}, {pt.x, pt.y - 1}, {pt.x, pt.y + 1}} {
			if n.x < 0 || n.y < 0 || n.x >= g.w || n.y >= g.h {
				cracks++
				continue
			}
			if !foreground(g.pix[n.y*g.w+n.x]) {
				cracks++
			}
		}
	}
	return float64(cracks) * math.Pi / 4
}

// inertiaRatio is the ratio of the smaller to the larger eigenvalue of
// the component's second central moments: 1 for a disk, near 0 for a
// line.
func inertiaRatio(pts []point, cx, cy float64) float64 {
	var mu20, mu02, mu11 float64
	for _, pt := range pts {
		dx := float64(pt.x) - cx
		dy := float64(pt.y) - cy
		mu20 += dx * dx
		mu02 += dy * dy
		mu11 += dx * dy
	}

	common := math.Sqrt((mu20-mu02)*(mu20-mu02) + 4*mu11*mu11)
	max := (mu20 + mu02 + common) / 2
	min := (mu20 + mu02 - common) / 2
	if max <= 0 {
		return 1
	}
	if min < 0 {
		min = 0
	}
	return min / max
}

// hullArea computes the convex hull area of the component's pixel
// centers (Andrew's monotone chain plus the shoelace formula).
func hullArea(pts []point) float64 {
	if len(pts) < 3 {
		return float64(len(pts))
	}

	sorted := make([]point, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].x != sorted[j].x {
			return sorted[i].x < sorted[j].x
		}
		return sorted[i].y < sorted[j].y
	})

	cross := func(o, a, b point) int {
		return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
	}

	var hull []point
	for _, pt := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	base := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		pt := sorted[i]
		for len(hull) >= base && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	hull = hull[:len(hull)-1]

	var area2 float64
	for i := range hull {
		j := (i + 1) % len(hull)
		area2 += float64(hull[i].x*hull[j].y - hull[j].x*hull[i].y)
	}
	return math.Abs(area2) / 2
}

type grayPlane struct {
	w, h int
	pix  []float64
}

func grayscale(img image.Image) *grayPlane {
	b := img.Bounds()
	g := &grayPlane{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, gr, bl, _ := img.At(x, y).RGBA()
			// Rec. 601 luma, scaled to 0..255.
			g.pix[i] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(bl)) / 257
			i++
		}
	}
	return g
}

// blur applies the Gaussian pre-blur, mapping the kernel size to a
// sigma the way OpenCV derives its default.
func blur(img image.Image, kernelSize int) image.Image {
	if kernelSize <= 1 {
		return img
	}
	sigma := 0.3*(float64(kernelSize-1)*0.5-1) + 0.8
	return imaging.Blur(img, sigma)
}

func dist(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x1-x2, y1-y2)
}
