package detection

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/ironsheep/featbench/internal/feature"
)

// CirclesOptions configures the Hough circle detector.
type CirclesOptions struct {
	// MinRadius and MaxRadius bound the radii searched, in pixels. Time grows
	// linearly with the range.
	MinRadius int `yaml:"min_radius" json:"min_radius" validate:"gte=1"`
	MaxRadius int `yaml:"max_radius" json:"max_radius" validate:"gtefield=MinRadius"`

	// VoteRatio is the fraction of the expected circumference votes a centre
	// needs to be reported.
	VoteRatio float64 `yaml:"vote_ratio" json:"vote_ratio" validate:"gt=0,lte=1"`

	Edges EdgeOptions `yaml:"edges" json:"edges"`
}

// DefaultCirclesOptions returns radii 5-50 and a 0.6 vote ratio.
func DefaultCirclesOptions() CirclesOptions {
	return CirclesOptions{
		MinRadius: 5,
		MaxRadius: 50,
		VoteRatio: 0.6,
		Edges:     DefaultEdgeOptions(),
	}
}

// Circles detects circles with the Hough transform.
type Circles struct {
	inProcess
	opts CirclesOptions
}

// NewCircles returns a circle detector.
func NewCircles(name string, opts CirclesOptions) *Circles {
	return &Circles{inProcess: newInProcess(KindCircles, name, opts), opts: opts}
}

// SupportsDescriptors reports false.
func (c *Circles) SupportsDescriptors() bool { return false }

// Extract returns one frame per circle, strongest first. Scale is the
// radius; Angle is always zero.
func (c *Circles) Extract(ctx context.Context, img image.Image, _ bool) (feature.Frames, feature.Descriptors, error) {
	return framesOnly(ctx, img, c.detect)
}

type circle struct {
	center     Point
	radius     int
	confidence float64
}

// detect runs the accumulator once per radius. Each edge pixel votes every
// 10 degrees around itself; local maxima within an 11x11 window above the
// vote threshold become candidates.
func (c *Circles) detect(ctx context.Context, img image.Image) (feature.Frames, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	edges := c.opts.Edges.detect(img)

	var found []circle
	for radius := c.opts.MinRadius; radius <= c.opts.MaxRadius; radius++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		acc := make([][]int, height)
		for y := range acc {
			acc[y] = make([]int, width)
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if !edges[y][x] {
					continue
				}
				for deg := 0; deg < 360; deg += 10 {
					rad := float64(deg) * math.Pi / 180
					cx := x - int(float64(radius)*math.Cos(rad))
					cy := y - int(float64(radius)*math.Sin(rad))
					if cx >= 0 && cx < width && cy >= 0 && cy < height {
						acc[cy][cx]++
					}
				}
			}
		}

		threshold := int(float64(2*radius) * c.opts.VoteRatio)
		for y := radius; y < height-radius; y++ {
			for x := radius; x < width-radius; x++ {
				votes := acc[y][x]
				if votes < threshold || votes == 0 || !isLocalMax(acc, x, y, 5) {
					continue
				}
				found = append(found, circle{
					center:     Point{X: x, Y: y},
					radius:     radius,
					confidence: math.Min(float64(votes)/float64(2*radius), 1),
				})
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].confidence > found[j].confidence
	})
	found = dedupCircles(found)

	frames := make(feature.Frames, 0, len(found))
	for _, ci := range found {
		frames = append(frames, feature.Frame{
			X:     float64(ci.center.X + bounds.Min.X),
			Y:     float64(ci.center.Y + bounds.Min.Y),
			Scale: float64(ci.radius),
		})
	}
	return frames, nil
}

func isLocalMax(acc [][]int, x, y, window int) bool {
	height, width := len(acc), len(acc[0])
	v := acc[y][x]
	for dy := -window; dy <= window; dy++ {
		for dx := -window; dx <= window; dx++ {
			ny, nx := y+dy, x+dx
			if (dx == 0 && dy == 0) || ny < 0 || ny >= height || nx < 0 || nx >= width {
				continue
			}
			if acc[ny][nx] > v {
				return false
			}
		}
	}
	return true
}

// dedupCircles keeps the first of any two circles whose centres are closer
// than their mean radius.
func dedupCircles(circles []circle) []circle {
	var kept []circle
	for _, c := range circles {
		duplicate := false
		for _, k := range kept {
			dx := float64(c.center.X - k.center.X)
			dy := float64(c.center.Y - k.center.Y)
			if math.Hypot(dx, dy) < float64(c.radius+k.radius)/2 {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
	}
	return kept
}
