package imaging

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Patch extracts the square region of side 2*radius centred on (cx, cy) and
// resamples it to size x size pixels.
//
// Coordinates are in the image's own coordinate space. The region is clipped
// to the image bounds; a region that falls entirely outside the image, or a
// non-positive size, yields nil.
func Patch(img image.Image, cx, cy, radius float64, size int) *image.NRGBA {
	if size <= 0 {
		return nil
	}
	if radius < 1 {
		radius = 1
	}

	rect := image.Rect(
		int(math.Floor(cx-radius)),
		int(math.Floor(cy-radius)),
		int(math.Ceil(cx+radius)),
		int(math.Ceil(cy+radius)),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}

	cropped := imaging.Crop(img, rect)
	return imaging.Resize(cropped, size, size, imaging.Linear)
}
