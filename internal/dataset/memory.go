package dataset

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

// Memory is a dataset held in memory.
//
// Its signature is derived from a revision counter: Replace bumps it, so the
// next computation pass treats the dataset as changed.
type Memory struct {
	name string

	mu         sync.RWMutex
	images     []image.Image
	transforms []feature.Homography
	revision   int64
}

// NewMemory returns a dataset over images. transforms may be nil, in which
// case every input maps through the identity.
func NewMemory(name string, images []image.Image, transforms []feature.Homography) *Memory {
	m := &Memory{name: name}
	m.set(images, transforms)
	return m
}

// Replace swaps the dataset contents and invalidates its signature.
func (m *Memory) Replace(images []image.Image, transforms []feature.Homography) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(images, transforms)
	m.revision++
}

func (m *Memory) set(images []image.Image, transforms []feature.Homography) {
	m.images = append([]image.Image(nil), images...)
	m.transforms = make([]feature.Homography, len(images))
	for i := range m.transforms {
		if i < len(transforms) {
			m.transforms[i] = transforms[i]
		} else {
			m.transforms[i] = feature.Identity()
		}
	}
}

// Name returns the dataset name.
func (m *Memory) Name() string {
	return m.name
}

// NumInputs returns the number of images.
func (m *Memory) NumInputs() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images), nil
}

// Input returns image i.
func (m *Memory) Input(ctx context.Context, i int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.images) {
		return nil, fmt.Errorf("input %d out of range [0,%d)", i, len(m.images))
	}
	return m.images[i], nil
}

// Transform returns the homography of input i.
func (m *Memory) Transform(i int) (feature.Homography, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.transforms) {
		return feature.Homography{}, fmt.Errorf("input %d out of range [0,%d)", i, len(m.transforms))
	}
	return m.transforms[i], nil
}

// Signature returns a fingerprint of the current revision.
func (m *Memory) Signature() (signature.Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return signature.New().
		String("memory").
		String(m.name).
		Int(m.revision).
		Int(int64(len(m.images))).
		Sum()
}
