package detection

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/ironsheep/featbench/internal/feature"
)

// LinesOptions configures the Hough line segment detector.
type LinesOptions struct {
	// MinLength is the shortest segment reported, in pixels.
	MinLength int `yaml:"min_length" json:"min_length" validate:"gte=2"`

	// MaxLines caps the number of segments, strongest first.
	MaxLines int `yaml:"max_lines" json:"max_lines" validate:"gte=1"`

	Edges EdgeOptions `yaml:"edges" json:"edges"`
}

// DefaultLinesOptions returns length 20 and at most 50 lines.
func DefaultLinesOptions() LinesOptions {
	return LinesOptions{
		MinLength: 20,
		MaxLines:  50,
		Edges:     DefaultEdgeOptions(),
	}
}

// Lines detects straight segments with the Hough line transform.
type Lines struct {
	inProcess
	opts LinesOptions
}

// NewLines returns a line segment detector.
func NewLines(name string, opts LinesOptions) *Lines {
	return &Lines{inProcess: newInProcess(KindLines, name, opts), opts: opts}
}

// SupportsDescriptors reports false.
func (l *Lines) SupportsDescriptors() bool { return false }

// Extract returns one frame per segment: centred on the midpoint, with
// Scale half the length and Angle the direction from start to end.
func (l *Lines) Extract(ctx context.Context, img image.Image, _ bool) (feature.Frames, feature.Descriptors, error) {
	return framesOnly(ctx, img, l.detect)
}

type houghPeak struct {
	rho, theta, votes int
}

const numAngles = 180

func (l *Lines) detect(ctx context.Context, img image.Image) (feature.Frames, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	edges := l.opts.Edges.detect(img)

	maxDist := int(math.Hypot(float64(width), float64(height))) + 1
	acc := make([][]int, 2*maxDist)
	for i := range acc {
		acc[i] = make([]int, numAngles)
	}

	var cosT, sinT [numAngles]float64
	for t := 0; t < numAngles; t++ {
		a := float64(t) * math.Pi / 180
		cosT[t], sinT[t] = math.Cos(a), math.Sin(a)
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !edges[y][x] {
				continue
			}
			for t := 0; t < numAngles; t++ {
				idx := int(float64(x)*cosT[t]+float64(y)*sinT[t]) + maxDist
				if idx >= 0 && idx < 2*maxDist {
					acc[idx][t]++
				}
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	peaks := findPeaks(acc, max(l.opts.MinLength/2, 1), maxDist)
	sort.SliceStable(peaks, func(i, j int) bool {
		return peaks[i].votes > peaks[j].votes
	})

	frames := make(feature.Frames, 0)
	for _, p := range peaks {
		if len(frames) >= l.opts.MaxLines {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, end, ok := traceSegment(edges, float64(p.rho), cosT[p.theta], sinT[p.theta])
		if !ok {
			continue
		}
		dx, dy := float64(end.X-start.X), float64(end.Y-start.Y)
		length := math.Hypot(dx, dy)
		if length < float64(l.opts.MinLength) {
			continue
		}
		frames = append(frames, feature.Frame{
			X:     float64(start.X+end.X)/2 + float64(bounds.Min.X),
			Y:     float64(start.Y+end.Y)/2 + float64(bounds.Min.Y),
			Scale: length / 2,
			Angle: math.Atan2(dy, dx),
		})
	}
	return frames, nil
}

// findPeaks returns accumulator cells with at least threshold votes that are
// maximal within a 5x5 neighbourhood. The angle axis wraps around.
func findPeaks(acc [][]int, threshold, maxDist int) []houghPeak {
	var peaks []houghPeak
	for r := range acc {
		for t := 0; t < numAngles; t++ {
			v := acc[r][t]
			if v < threshold {
				continue
			}
			isMax := true
			for dr := -2; dr <= 2 && isMax; dr++ {
				for dt := -2; dt <= 2 && isMax; dt++ {
					nr, nt := r+dr, (t+dt+numAngles)%numAngles
					if (dr == 0 && dt == 0) || nr < 0 || nr >= len(acc) {
						continue
					}
					if acc[nr][nt] > v {
						isMax = false
					}
				}
			}
			if isMax {
				peaks = append(peaks, houghPeak{rho: r - maxDist, theta: t, votes: v})
			}
		}
	}
	return peaks
}

// traceSegment finds the extreme edge pixels lying within 2px of the line
// x*cos + y*sin = rho.
func traceSegment(edges [][]bool, rho, cosA, sinA float64) (Point, Point, bool) {
	var start, end Point
	lo, hi := math.Inf(1), math.Inf(-1)
	for y := range edges {
		for x := range edges[y] {
			if !edges[y][x] || math.Abs(float64(x)*cosA+float64(y)*sinA-rho) >= 2 {
				continue
			}
			// Position along the line direction (-sin, cos).
			d := -float64(x)*sinA + float64(y)*cosA
			if d < lo {
				lo, start = d, Point{X: x, Y: y}
			}
			if d > hi {
				hi, end = d, Point{X: x, Y: y}
			}
		}
	}
	return start, end, !math.IsInf(lo, 1)
}
