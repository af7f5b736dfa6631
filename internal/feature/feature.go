// Package feature defines the values detectors produce: frames and descriptors.
//
// A Frame is the primary geometric result of a detector for one image. Its
// layout follows the oriented-disc convention used by VLFeat: a centre, an
// isotropic scale and an orientation in radians. Detectors that have no
// notion of orientation leave Angle at zero.
//
// A Descriptor is the optional secondary result: one fixed-length vector per
// frame, aligned index for index with the Frames it describes.
package feature

import (
	"fmt"
	"math"
)

// Frame is a single detected feature.
type Frame struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
	Angle float64 `json:"angle"`
}

// Frames holds all frames detected in one input. A nil Frames means the slot
// was never computed; an empty non-nil Frames means nothing was detected.
type Frames []Frame

// Descriptor is the descriptor vector of a single frame.
type Descriptor []float32

// Descriptors holds one Descriptor per Frame of the same input.
type Descriptors []Descriptor

// Dim returns the descriptor dimensionality, or 0 when empty.
func (d Descriptors) Dim() int {
	if len(d) == 0 {
		return 0
	}
	return len(d[0])
}

// Validate checks that d describes exactly the frames in f and that every
// vector has the same length.
func (d Descriptors) Validate(f Frames) error {
	if len(d) != len(f) {
		return fmt.Errorf("descriptor count %d does not match frame count %d", len(d), len(f))
	}
	dim := d.Dim()
	for i, v := range d {
		if len(v) != dim {
			return fmt.Errorf("descriptor %d has length %d, want %d", i, len(v), dim)
		}
	}
	return nil
}

// Homography is a 3x3 row-major planar projective transform.
type Homography [9]float64

// Identity returns the identity homography.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// IsIdentity reports whether h is the identity within a small tolerance.
func (h Homography) IsIdentity() bool {
	id := Identity()
	for i := range h {
		if math.Abs(h[i]-id[i]) > 1e-12 {
			return false
		}
	}
	return true
}

// Apply maps the point (x, y) through h.
func (h Homography) Apply(x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	if w == 0 {
		return math.Inf(1), math.Inf(1)
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}
