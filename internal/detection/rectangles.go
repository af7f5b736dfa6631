package detection

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/ironsheep/featbench/internal/feature"
)

// RectanglesOptions configures the contour rectangle detector.
type RectanglesOptions struct {
	// MinArea is the smallest bounding box area reported, in square pixels.
	MinArea int `yaml:"min_area" json:"min_area" validate:"gte=0"`

	// Tolerance is the minimum rectangularity score (0-1).
	Tolerance float64 `yaml:"tolerance" json:"tolerance" validate:"gte=0,lte=1"`

	// MinContour drops edge components with fewer pixels.
	MinContour int `yaml:"min_contour" json:"min_contour" validate:"gte=1"`

	Edges EdgeOptions `yaml:"edges" json:"edges"`
}

// DefaultRectanglesOptions returns area 100, tolerance 0.8.
func DefaultRectanglesOptions() RectanglesOptions {
	return RectanglesOptions{
		MinArea:    100,
		Tolerance:  0.8,
		MinContour: 10,
		Edges:      DefaultEdgeOptions(),
	}
}

// Rectangles detects axis-aligned rectangles from edge contours.
//
// A contour's rectangularity is 1 - |len - perimeter| / perimeter, where
// perimeter is that of its bounding box: a clean outline scores close to 1,
// circles and irregular blobs score lower. Rotated rectangles and rounded
// corners score poorly.
type Rectangles struct {
	inProcess
	opts RectanglesOptions
}

// NewRectangles returns a rectangle detector.
func NewRectangles(name string, opts RectanglesOptions) *Rectangles {
	return &Rectangles{inProcess: newInProcess(KindRectangles, name, opts), opts: opts}
}

// SupportsDescriptors reports false.
func (r *Rectangles) SupportsDescriptors() bool { return false }

// Extract returns one frame per rectangle centre, largest first.
func (r *Rectangles) Extract(ctx context.Context, img image.Image, _ bool) (feature.Frames, feature.Descriptors, error) {
	return framesOnly(ctx, img, r.detect)
}

type box struct {
	minX, minY, maxX, maxY int
}

func (b box) width() int  { return b.maxX - b.minX }
func (b box) height() int { return b.maxY - b.minY }
func (b box) area() int   { return b.width() * b.height() }

func boundingBox(contour []Point) box {
	b := box{minX: math.MaxInt, minY: math.MaxInt}
	for _, p := range contour {
		b.minX = min(b.minX, p.X)
		b.minY = min(b.minY, p.Y)
		b.maxX = max(b.maxX, p.X)
		b.maxY = max(b.maxY, p.Y)
	}
	return b
}

func (r *Rectangles) detect(ctx context.Context, img image.Image) (feature.Frames, error) {
	bounds := img.Bounds()
	edges := r.opts.Edges.detect(img)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var boxes []box
	for _, contour := range findContours(edges, r.opts.MinContour) {
		b := boundingBox(contour)
		if b.area() < r.opts.MinArea || b.area() == 0 {
			continue
		}
		perimeter := 2 * (b.width() + b.height())
		score := 1 - math.Abs(float64(len(contour)-perimeter))/float64(perimeter)
		if score < r.opts.Tolerance {
			continue
		}
		boxes = append(boxes, b)
	}

	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].area() > boxes[j].area()
	})

	frames := make(feature.Frames, 0, len(boxes))
	for _, b := range boxes {
		frames = append(frames, feature.Frame{
			X:     float64(b.minX+b.maxX)/2 + float64(bounds.Min.X),
			Y:     float64(b.minY+b.maxY)/2 + float64(bounds.Min.Y),
			Scale: math.Sqrt(float64(b.area())) / 2,
		})
	}
	return frames, nil
}
