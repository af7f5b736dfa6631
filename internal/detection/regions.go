package detection

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/ironsheep/featbench/internal/feature"
)

// RegionsOptions configures the text region heuristic.
type RegionsOptions struct {
	// MinConfidence drops windows scoring below it (0-1).
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1"`

	// Windows lists the sliding window sizes, each as [width, height].
	Windows [][2]int `yaml:"windows" json:"windows" validate:"min=1"`

	Edges EdgeOptions `yaml:"edges" json:"edges"`
}

// DefaultRegionsOptions returns four window sizes typical of printed text.
func DefaultRegionsOptions() RegionsOptions {
	return RegionsOptions{
		MinConfidence: 0.3,
		Windows:       [][2]int{{80, 25}, {100, 30}, {150, 40}, {200, 50}},
		Edges:         DefaultEdgeOptions(),
	}
}

// Regions finds areas likely to contain text: windows of medium edge density
// whose edges run mostly horizontally. Overlapping windows are merged.
type Regions struct {
	inProcess
	opts RegionsOptions
}

// NewRegions returns a text region detector.
func NewRegions(name string, opts RegionsOptions) *Regions {
	return &Regions{inProcess: newInProcess(KindRegions, name, opts), opts: opts}
}

// SupportsDescriptors reports false.
func (r *Regions) SupportsDescriptors() bool { return false }

// Extract returns one frame per merged region, most confident first. Scale
// is half the region height.
func (r *Regions) Extract(ctx context.Context, img image.Image, _ bool) (feature.Frames, feature.Descriptors, error) {
	return framesOnly(ctx, img, r.detect)
}

type region struct {
	b          box
	confidence float64
}

func (r *Regions) detect(ctx context.Context, img image.Image) (feature.Frames, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	edges := r.opts.Edges.detect(img)

	var candidates []region
	for _, win := range r.opts.Windows {
		w, h := win[0], win[1]
		if w < 2 || h < 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for y := 0; y+h <= height; y += h / 2 {
			for x := 0; x+w <= width; x += w / 2 {
				count := 0
				for wy := y; wy < y+h; wy++ {
					for wx := x; wx < x+w; wx++ {
						if edges[wy][wx] {
							count++
						}
					}
				}
				density := float64(count) / float64(w*h)
				if density < 0.05 || density > 0.4 {
					continue
				}
				confidence := horizontalScore(edges, x, y, w, h) * (1 - math.Abs(density-0.2)/0.2)
				if confidence >= r.opts.MinConfidence {
					candidates = append(candidates, region{
						b:          box{minX: x, minY: y, maxX: x + w, maxY: y + h},
						confidence: confidence,
					})
				}
			}
		}
	}

	merged := mergeRegions(candidates)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].confidence > merged[j].confidence
	})

	frames := make(feature.Frames, 0, len(merged))
	for _, m := range merged {
		frames = append(frames, feature.Frame{
			X:     float64(m.b.minX+m.b.maxX)/2 + float64(bounds.Min.X),
			Y:     float64(m.b.minY+m.b.maxY)/2 + float64(bounds.Min.Y),
			Scale: float64(m.b.height()) / 2,
		})
	}
	return frames, nil
}

// horizontalScore is the share of edge runs that are horizontal.
func horizontalScore(edges [][]bool, x, y, w, h int) float64 {
	var horizontal, vertical int
	for row := y; row < y+h; row++ {
		inRun := false
		for col := x; col < x+w; col++ {
			if edges[row][col] && !inRun {
				horizontal++
			}
			inRun = edges[row][col]
		}
	}
	for col := x; col < x+w; col++ {
		inRun := false
		for row := y; row < y+h; row++ {
			if edges[row][col] && !inRun {
				vertical++
			}
			inRun = edges[row][col]
		}
	}
	if horizontal+vertical == 0 {
		return 0
	}
	return float64(horizontal) / float64(horizontal+vertical)
}

func mergeRegions(regions []region) []region {
	var merged []region
	for _, r := range regions {
		absorbed := false
		for i := range merged {
			m := &merged[i]
			if r.b.minX < m.b.maxX && r.b.maxX > m.b.minX && r.b.minY < m.b.maxY && r.b.maxY > m.b.minY {
				m.b = box{
					minX: min(r.b.minX, m.b.minX),
					minY: min(r.b.minY, m.b.minY),
					maxX: max(r.b.maxX, m.b.maxX),
					maxY: max(r.b.maxY, m.b.maxY),
				}
				m.confidence = math.Max(m.confidence, r.confidence)
				absorbed = true
				break
			}
		}
		if !absorbed {
			merged = append(merged, r)
		}
	}
	return merged
}
