package store

import (
	"context"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/ironsheep/featbench/internal/dataset"
	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

func newTestDataset() *dataset.Memory {
	imgs := make([]image.Image, 2)
	for i := range imgs {
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		img.SetGray(i, i, color.Gray{Y: 255})
		imgs[i] = img
	}
	return dataset.NewMemory("store-test", imgs, nil)
}

// countingDetector reports the brightest pixel with a fixed descriptor.
type countingDetector struct {
	name  string
	calls atomic.Int64
}

func (d *countingDetector) Name() string { return d.name }

func (d *countingDetector) Signature() signature.Signature {
	return signature.New().String(d.name).MustSum()
}

func (d *countingDetector) Healthy() bool             { return true }
func (d *countingDetector) LastError() string         { return "" }
func (d *countingDetector) SupportsDescriptors() bool { return true }

func (d *countingDetector) Extract(ctx context.Context, img image.Image, withDescriptors bool) (feature.Frames, feature.Descriptors, error) {
	d.calls.Add(1)
	b := img.Bounds()
	var best feature.Frame
	var peak uint32
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			if r > peak {
				peak = r
				best = feature.Frame{X: float64(x), Y: float64(y), Scale: 1}
			}
		}
	}
	frames := feature.Frames{best}
	if !withDescriptors {
		return frames, nil, nil
	}
	return frames, feature.Descriptors{{1, 0}}, nil
}
