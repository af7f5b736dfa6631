package bench

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

// Configuration errors returned by New and Register.
var (
	ErrNilDataset  = errors.New("bench: dataset is nil")
	ErrNilDetector = errors.New("bench: detector is nil")
	ErrEmptyName   = errors.New("bench: detector name is empty")
)

// Detector is the capability a feature detector exposes to the cache.
//
// Signature must be cheap: it is called once per detector per pass and must
// not perform the extraction it guards. Extract must be safe for concurrent
// use on different images.
type Detector interface {
	Name() string
	Signature() signature.Signature
	Healthy() bool
	LastError() string

	// SupportsDescriptors reports whether Extract can return descriptors
	// for its own frames.
	SupportsDescriptors() bool

	// Extract detects frames in img and, when withDescriptors is true,
	// describes them. Descriptors must align with frames one to one.
	Extract(ctx context.Context, img image.Image, withDescriptors bool) (feature.Frames, feature.Descriptors, error)
}

// Dataset is the capability an image dataset exposes to the cache.
type Dataset interface {
	Name() string
	NumInputs() (int, error)
	Input(ctx context.Context, i int) (image.Image, error)
	Transform(i int) (feature.Homography, error)
	Signature() (signature.Signature, error)
}

// DescriptorFunc describes frames already detected in img.
type DescriptorFunc func(ctx context.Context, img image.Image, frames feature.Frames) (feature.Descriptors, error)

// Options configures a Cache.
type Options struct {
	// ComputeDescriptors requests descriptors for every input.
	ComputeDescriptors bool

	// DetectorWorkers bounds how many detectors run at once, and
	// InputWorkers how many inputs each detector processes at once.
	// Zero means GOMAXPROCS.
	DetectorWorkers int
	InputWorkers    int

	// Fallback describes frames of detectors without native descriptors.
	// Nil selects descriptor.Patch.
	Fallback DescriptorFunc

	// FallbackName identifies Fallback in store keys, so stored descriptors
	// of another routine are never restored. Empty derives it from the
	// function's symbol name.
	FallbackName string

	// Store persists results across processes. Nil keeps them in memory.
	Store ResultStore

	// Logger defaults to the "bench" component of the global logger.
	Logger *zerolog.Logger
}

// DefaultOptions returns options with descriptors enabled.
func DefaultOptions() Options {
	return Options{ComputeDescriptors: true}
}

// Results is an immutable view of one entry.
//
// Frames and Descriptors have one slot per dataset input. A nil Frames slot
// was never computed. Descriptor slots are nil when descriptors were not
// requested. Callers must not modify the slices.
type Results struct {
	Signature   signature.Signature   `json:"signature"`
	Frames      []feature.Frames      `json:"frames"`
	Descriptors []feature.Descriptors `json:"descriptors"`
}

// Computed reports whether the results come from a successful computation.
func (r *Results) Computed() bool {
	return !r.Signature.IsEmpty()
}

// FrameCount returns the number of frames over all inputs.
func (r *Results) FrameCount() int {
	n := 0
	for _, f := range r.Frames {
		n += len(f)
	}
	return n
}

func emptyResults(n int) *Results {
	return &Results{
		Signature:   signature.Empty,
		Frames:      make([]feature.Frames, n),
		Descriptors: make([]feature.Descriptors, n),
	}
}

// DatasetSnapshot is the cache's copy of the dataset as of the last load.
type DatasetSnapshot struct {
	Signature  signature.Signature
	Inputs     []image.Image
	Transforms []feature.Homography
	LoadedAt   time.Time
}

// EntryInfo summarises one registered detector.
type EntryInfo struct {
	Name                string              `json:"name"`
	Signature           signature.Signature `json:"signature"`
	Computed            bool                `json:"computed"`
	Inputs              int                 `json:"inputs"`
	Frames              int                 `json:"frames"`
	DescriptorDim       int                 `json:"descriptor_dim"`
	SupportsDescriptors bool                `json:"supports_descriptors"`
}
