package detection

import (
	"context"
	"image"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

// Detector kinds, as named in suite files.
const (
	KindCircles    = "circles"
	KindRectangles = "rectangles"
	KindLines      = "lines"
	KindRegions    = "regions"
	KindDoG        = "dog"
	KindExec       = "exec"
)

// inProcess carries the name and signature of a pure-Go detector. Such a
// detector is always healthy and its signature depends on its options only.
type inProcess struct {
	name string
	sig  signature.Signature
}

func newInProcess(kind, name string, opts any) inProcess {
	return inProcess{
		name: name,
		sig:  signature.New().String(kind).Options(opts).MustSum(),
	}
}

// Name returns the registered detector name.
func (d inProcess) Name() string { return d.name }

// Signature fingerprints the detector kind and options.
func (d inProcess) Signature() signature.Signature { return d.sig }

// Healthy always reports true.
func (d inProcess) Healthy() bool { return true }

// LastError always returns "".
func (d inProcess) LastError() string { return "" }

// framesOnly adapts a frame-producing function to the Extract contract of
// detectors that do not compute descriptors.
func framesOnly(ctx context.Context, img image.Image, detect func(context.Context, image.Image) (feature.Frames, error)) (feature.Frames, feature.Descriptors, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	frames, err := detect(ctx, img)
	if err != nil {
		return nil, nil, err
	}
	if frames == nil {
		frames = feature.Frames{}
	}
	return frames, nil, nil
}
