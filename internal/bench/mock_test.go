package bench

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

// inputImage encodes the input index in the image width.
func inputImage(i int) image.Image {
	return image.NewGray(image.Rect(0, 0, i+1, 1))
}

func inputIndex(img image.Image) int {
	return img.Bounds().Dx() - 1
}

type mockDataset struct {
	name string

	mu       sync.Mutex
	n        int
	revision int
	sigErr   error
	inputErr error

	inputCalls atomic.Int64
}

func newMockDataset(n int) *mockDataset {
	return &mockDataset{name: "mock", n: n}
}

func (d *mockDataset) Name() string { return d.name }

func (d *mockDataset) NumInputs() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n, nil
}

func (d *mockDataset) Input(ctx context.Context, i int) (image.Image, error) {
	d.inputCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inputErr != nil {
		return nil, d.inputErr
	}
	return inputImage(i), nil
}

func (d *mockDataset) Transform(i int) (feature.Homography, error) {
	return feature.Identity(), nil
}

func (d *mockDataset) Signature() (signature.Signature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sigErr != nil {
		return signature.Empty, d.sigErr
	}
	return signature.New().String(d.name).Int(int64(d.n)).Int(int64(d.revision)).MustSum(), nil
}

// touch changes the dataset signature, optionally resizing it.
func (d *mockDataset) touch(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revision++
	d.n = n
}

type mockDetector struct {
	name  string
	joint bool

	mu      sync.Mutex
	version int
	healthy bool
	lastErr string
	failOn  int
	panicOn int
	badDesc bool
	delay   func(i int) time.Duration

	calls     atomic.Int64
	withDescs atomic.Int64
}

func newMockDetector(name string) *mockDetector {
	return &mockDetector{name: name, healthy: true, failOn: -1, panicOn: -1}
}

func (m *mockDetector) Name() string { return m.name }

func (m *mockDetector) Signature() signature.Signature {
	m.mu.Lock()
	defer m.mu.Unlock()
	return signature.New().String(m.name).Int(int64(m.version)).MustSum()
}

func (m *mockDetector) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *mockDetector) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *mockDetector) SupportsDescriptors() bool { return m.joint }

// Extract returns one frame at (input index, version).
func (m *mockDetector) Extract(ctx context.Context, img image.Image, withDescriptors bool) (feature.Frames, feature.Descriptors, error) {
	m.calls.Add(1)
	if withDescriptors {
		m.withDescs.Add(1)
	}
	i := inputIndex(img)

	m.mu.Lock()
	version, failOn, panicOn, badDesc, delay := m.version, m.failOn, m.panicOn, m.badDesc, m.delay
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-time.After(delay(i)):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if i == failOn {
		return nil, nil, fmt.Errorf("extraction failed on input %d", i)
	}
	if i == panicOn {
		panic("boom")
	}

	frames := feature.Frames{{X: float64(i), Y: float64(version), Scale: 1}}
	if !withDescriptors {
		return frames, nil, nil
	}
	if badDesc {
		return frames, feature.Descriptors{}, nil
	}
	return frames, feature.Descriptors{{float32(i), float32(version)}}, nil
}

// reconfigure changes the detector signature.
func (m *mockDetector) reconfigure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
}

func (m *mockDetector) set(fn func(m *mockDetector)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// countingFallback describes every frame with a single -1 component.
type countingFallback struct {
	calls atomic.Int64
}

func (f *countingFallback) describe(ctx context.Context, img image.Image, frames feature.Frames) (feature.Descriptors, error) {
	f.calls.Add(1)
	out := make(feature.Descriptors, len(frames))
	for i := range out {
		out[i] = feature.Descriptor{-1}
	}
	return out, nil
}

type memoryStore struct {
	mu    sync.Mutex
	data  map[StoreKey]*Results
	saves atomic.Int64
	err   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[StoreKey]*Results)}
}

func (s *memoryStore) Load(ctx context.Context, key StoreKey) (*Results, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	r, ok := s.data[key]
	return r, ok, nil
}

func (s *memoryStore) Save(ctx context.Context, key StoreKey, r *Results) error {
	s.saves.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = r
	return nil
}

var errBoom = errors.New("boom")

func newTestCache(t *testing.T, ds Dataset, opts Options) *Cache {
	t.Helper()
	nop := zerolog.Nop()
	opts.Logger = &nop
	c, err := New(ds, opts)
	require.NoError(t, err)
	return c
}

func register(t *testing.T, c *Cache, dets ...Detector) {
	t.Helper()
	require.NoError(t, c.Register(dets))
}
