// Package descriptor computes descriptors for frames produced by detectors
// that cannot describe their own output.
//
// The routine here samples a small colour patch around every frame, converts
// each sample to CIE L*a*b* and L2-normalises the result. It ignores frame
// orientation: the patch is always axis-aligned.
package descriptor

import (
	"context"
	"image"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/imaging"
)

const (
	// DefaultGrid is the patch side, in samples, used by Patch.
	DefaultGrid = 4

	// DefaultMagnification scales a frame's radius to the patch half-width.
	DefaultMagnification = 3.0
)

// Patch describes frames with DefaultGrid x DefaultGrid Lab patches.
func Patch(ctx context.Context, img image.Image, frames feature.Frames) (feature.Descriptors, error) {
	return describe(ctx, img, frames, DefaultGrid, DefaultMagnification)
}

// PatchWith returns a descriptor routine using a custom grid and
// magnification. Descriptors have 3*grid*grid components.
func PatchWith(grid int, magnification float64) func(context.Context, image.Image, feature.Frames) (feature.Descriptors, error) {
	if grid < 1 {
		grid = DefaultGrid
	}
	if magnification <= 0 {
		magnification = DefaultMagnification
	}
	return func(ctx context.Context, img image.Image, frames feature.Frames) (feature.Descriptors, error) {
		return describe(ctx, img, frames, grid, magnification)
	}
}

// Dim returns the descriptor length produced for the given grid.
func Dim(grid int) int {
	return 3 * grid * grid
}

func describe(ctx context.Context, img image.Image, frames feature.Frames, grid int, magnification float64) (feature.Descriptors, error) {
	out := make(feature.Descriptors, len(frames))
	for i, f := range frames {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = describeOne(img, f, grid, magnification)
	}
	return out, nil
}

// describeOne returns a zero vector when the frame's patch lies outside
// the image.
func describeOne(img image.Image, f feature.Frame, grid int, magnification float64) feature.Descriptor {
	d := make(feature.Descriptor, Dim(grid))
	patch := imaging.Patch(img, f.X, f.Y, f.Scale*magnification, grid)
	if patch == nil {
		return d
	}

	var norm float64
	k := 0
	for y := 0; y < grid; y++ {
		for x := 0; x < grid; x++ {
			c, _ := colorful.MakeColor(patch.NRGBAAt(x, y))
			l, a, b := c.Lab()
			for _, v := range [3]float64{l, a, b} {
				d[k] = float32(v)
				norm += v * v
				k++
			}
		}
	}

	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range d {
			d[i] = float32(float64(d[i]) * inv)
		}
	}
	return d
}
