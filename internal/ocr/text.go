// Package ocr provides a text detector backed by the Tesseract OCR engine.
//
// Each recognised word (or line, or block) becomes a frame centred on its
// bounding box with Scale half the box height. The detector is unhealthy when
// Tesseract or the requested language data is unavailable, and its signature
// includes the Tesseract version so that upgrading the engine invalidates
// cached results.
//
// # Prerequisites
//
// Tesseract must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// Builds without cgo compile a stub engine that always reports unhealthy.
package ocr

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

// Kind is the suite name of the text detector.
const Kind = "text"

// Iterator levels.
const (
	LevelWord  = "word"
	LevelLine  = "line"
	LevelBlock = "block"
)

// Options configures the text detector.
type Options struct {
	// Language is a Tesseract language code such as "eng" or "deu+eng".
	Language string `yaml:"language" json:"language" validate:"required"`

	// Level is the granularity of frames: word, line or block.
	Level string `yaml:"level" json:"level" validate:"oneof=word line block"`

	// MinConfidence drops results Tesseract is less sure about (0-1).
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1"`
}

// DefaultOptions returns English word-level recognition.
func DefaultOptions() Options {
	return Options{
		Language:      "eng",
		Level:         LevelWord,
		MinConfidence: 0.5,
	}
}

// word is one recognised unit in image coordinates.
type word struct {
	box        image.Rectangle
	text       string
	confidence float64
}

// Detector finds text with Tesseract.
type Detector struct {
	name string
	opts Options

	probeOnce sync.Once
	version   string
	probeErr  error

	mu      sync.Mutex
	lastErr string
}

// New returns a text detector. Tesseract is probed on first use.
func New(name string, opts Options) *Detector {
	return &Detector{name: name, opts: opts}
}

// Name returns the registered detector name.
func (d *Detector) Name() string { return d.name }

// SupportsDescriptors reports false.
func (d *Detector) SupportsDescriptors() bool { return false }

func (d *Detector) probe() error {
	d.probeOnce.Do(func() {
		d.version, d.probeErr = probe(d.opts)
	})
	return d.probeErr
}

// Healthy reports whether Tesseract initialised with the configured language.
func (d *Detector) Healthy() bool {
	return d.probe() == nil
}

// LastError returns why Tesseract is unavailable, or the last failure.
func (d *Detector) LastError() string {
	if err := d.probe(); err != nil {
		return err.Error()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Version returns the Tesseract version, or "" when unavailable.
func (d *Detector) Version() string {
	_ = d.probe()
	return d.version
}

// Signature fingerprints the options and the engine version.
func (d *Detector) Signature() signature.Signature {
	return signature.New().
		String(Kind).
		Options(d.opts).
		String(d.Version()).
		MustSum()
}

// Extract recognises text in img.
func (d *Detector) Extract(ctx context.Context, img image.Image, _ bool) (feature.Frames, feature.Descriptors, error) {
	if err := d.probe(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	words, err := recognize(img, d.opts)
	if err != nil {
		err = fmt.Errorf("recognize: %w", err)
		d.mu.Lock()
		d.lastErr = err.Error()
		d.mu.Unlock()
		return nil, nil, err
	}
	return toFrames(words, img.Bounds().Min, d.opts.MinConfidence), nil, nil
}

// toFrames converts recognised units to frames, offsetting boxes reported
// relative to the encoded image back into img's coordinate space.
func toFrames(words []word, origin image.Point, minConfidence float64) feature.Frames {
	frames := make(feature.Frames, 0, len(words))
	for _, w := range words {
		if w.text == "" || w.confidence < minConfidence || w.box.Empty() {
			continue
		}
		b := w.box.Add(origin)
		frames = append(frames, feature.Frame{
			X:     float64(b.Min.X+b.Max.X) / 2,
			Y:     float64(b.Min.Y+b.Max.Y) / 2,
			Scale: float64(b.Dy()) / 2,
		})
	}
	return frames
}
