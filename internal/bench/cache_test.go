package bench

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

func TestNew_NilDataset(t *testing.T) {
	_, err := New(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrNilDataset)
}

func TestRegister_ValidatesBeforeMutating(t *testing.T) {
	c := newTestCache(t, newMockDataset(2), DefaultOptions())

	err := c.Register([]Detector{newMockDetector("a"), nil})
	assert.ErrorIs(t, err, ErrNilDetector)
	assert.Empty(t, c.Entries())

	err = c.Register([]Detector{newMockDetector("a"), newMockDetector("")})
	assert.ErrorIs(t, err, ErrEmptyName)
	assert.Empty(t, c.Entries())
}

func TestRegister_NewEntryIsEmpty(t *testing.T) {
	c := newTestCache(t, newMockDataset(3), DefaultOptions())
	register(t, c, newMockDetector("early"))

	r, ok := c.Results("early")
	require.True(t, ok)
	assert.False(t, r.Computed())
	assert.Equal(t, signature.Empty, r.Signature)
	assert.Empty(t, r.Frames)

	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)

	// Registered after the dataset is loaded: slots match the inputs.
	register(t, c, newMockDetector("late"))
	r, ok = c.Results("late")
	require.True(t, ok)
	assert.False(t, r.Computed())
	assert.Len(t, r.Frames, 3)
	for _, f := range r.Frames {
		assert.Nil(t, f)
	}

	_, ok = c.Results("missing")
	assert.False(t, ok)
}

func TestComputeAll_SingleDetectorScenario(t *testing.T) {
	ds := newMockDataset(3)
	det := newMockDetector("Det1")
	c := newTestCache(t, ds, DefaultOptions())
	register(t, c, det)

	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DatasetReloaded)
	assert.Equal(t, 3, report.Inputs)
	assert.Equal(t, []string{"Det1"}, report.Recomputed)
	assert.True(t, report.OK())
	assert.NotEmpty(t, report.RunID)
	assert.EqualValues(t, 3, det.calls.Load())
	assert.EqualValues(t, 3, ds.inputCalls.Load())

	first, _ := c.Results("Det1")
	require.True(t, first.Computed())
	assert.Equal(t, det.Signature(), first.Signature)
	require.Len(t, first.Frames, 3)
	for i, f := range first.Frames {
		require.Len(t, f, 1)
		assert.Equal(t, float64(i), f[0].X)
	}

	report, err = c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.False(t, report.DatasetReloaded)
	assert.Equal(t, []string{"Det1"}, report.CacheHits)
	assert.Empty(t, report.Recomputed)
	assert.EqualValues(t, 3, det.calls.Load(), "no extraction on a cache hit")
	assert.EqualValues(t, 3, ds.inputCalls.Load(), "no reload when the dataset is unchanged")

	second, _ := c.Results("Det1")
	assert.Same(t, first, second)
}

func TestComputeAll_Idempotent(t *testing.T) {
	ds := newMockDataset(4)
	dets := []*mockDetector{newMockDetector("a"), newMockDetector("b"), newMockDetector("c")}
	c := newTestCache(t, ds, DefaultOptions())
	for _, d := range dets {
		register(t, c, d)
	}

	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	before := make(map[string]*Results)
	for _, d := range dets {
		before[d.name], _ = c.Results(d.name)
	}

	for range 3 {
		report, err := c.ComputeAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, report.CacheHits)
	}
	for _, d := range dets {
		assert.EqualValues(t, 4, d.calls.Load(), d.name)
		after, _ := c.Results(d.name)
		assert.Same(t, before[d.name], after, d.name)
	}
}

func TestComputeAll_DetectorSignatureInvalidatesOnlyThatDetector(t *testing.T) {
	ds := newMockDataset(3)
	a, b, cc := newMockDetector("a"), newMockDetector("b"), newMockDetector("c")
	c := newTestCache(t, ds, DefaultOptions())
	register(t, c, a, b, cc)

	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	aBefore, _ := c.Results("a")
	cBefore, _ := c.Results("c")

	b.reconfigure()
	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.False(t, report.DatasetReloaded)
	assert.Equal(t, []string{"b"}, report.Recomputed)
	assert.Equal(t, []string{"a", "c"}, report.CacheHits)

	assert.EqualValues(t, 3, a.calls.Load())
	assert.EqualValues(t, 6, b.calls.Load())
	assert.EqualValues(t, 3, cc.calls.Load())
	assert.EqualValues(t, 3, ds.inputCalls.Load())

	aAfter, _ := c.Results("a")
	cAfter, _ := c.Results("c")
	assert.Same(t, aBefore, aAfter)
	assert.Same(t, cBefore, cAfter)

	bAfter, _ := c.Results("b")
	assert.Equal(t, b.Signature(), bAfter.Signature)
	assert.Equal(t, float64(1), bAfter.Frames[0][0].Y)
}

func TestComputeAll_DatasetChangeInvalidatesEverything(t *testing.T) {
	ds := newMockDataset(2)
	a, b := newMockDetector("a"), newMockDetector("b")
	c := newTestCache(t, ds, DefaultOptions())
	register(t, c, a, b)

	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	firstSnap := c.Snapshot()

	ds.touch(5)
	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DatasetReloaded)
	assert.Equal(t, 5, report.Inputs)
	assert.Equal(t, []string{"a", "b"}, report.Recomputed)
	assert.Empty(t, report.CacheHits)
	assert.EqualValues(t, 7, a.calls.Load())
	assert.EqualValues(t, 7, b.calls.Load())
	assert.EqualValues(t, 7, ds.inputCalls.Load())

	snap := c.Snapshot()
	assert.NotEqual(t, firstSnap.Signature, snap.Signature)
	assert.Len(t, snap.Inputs, 5)
	assert.Len(t, snap.Transforms, 5)
	for _, name := range []string{"a", "b"} {
		r, _ := c.Results(name)
		assert.Len(t, r.Frames, 5, name)
		assert.Len(t, r.Descriptors, 5, name)
	}
}

func TestComputeAll_PreservesInputOrder(t *testing.T) {
	const n = 24
	ds := newMockDataset(n)
	det := newMockDetector("slow")
	det.joint = true
	rng := rand.New(rand.NewSource(7))
	delays := make([]time.Duration, n)
	for i := range delays {
		delays[i] = time.Duration(rng.Intn(5)) * time.Millisecond
	}
	det.delay = func(i int) time.Duration { return delays[i] }

	opts := DefaultOptions()
	opts.InputWorkers = 8
	c := newTestCache(t, ds, opts)
	register(t, c, det)

	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)

	r, _ := c.Results("slow")
	require.Len(t, r.Frames, n)
	for i := range n {
		require.Len(t, r.Frames[i], 1)
		assert.Equal(t, float64(i), r.Frames[i][0].X)
		require.Len(t, r.Descriptors[i], 1)
		assert.Equal(t, float32(i), r.Descriptors[i][0][0])
	}
	snap := c.Snapshot()
	for i, img := range snap.Inputs {
		assert.Equal(t, i, inputIndex(img))
	}
}

func TestComputeAll_FailureIsolation(t *testing.T) {
	ds := newMockDataset(3)
	a := newMockDetector("A")
	b := newMockDetector("B")
	b.healthy = false
	b.lastErr = "binary not found"
	c := newTestCache(t, ds, DefaultOptions())
	register(t, c, a, b)

	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []Failure{{Detector: "B", Message: "binary not found"}}, report.Failures)
	assert.Equal(t, []string{"A"}, report.Recomputed)

	ra, _ := c.Results("A")
	assert.True(t, ra.Computed())
	assert.Equal(t, 3, ra.FrameCount())

	rb, _ := c.Results("B")
	assert.False(t, rb.Computed())
	require.Len(t, rb.Frames, 3)
	for _, f := range rb.Frames {
		assert.Nil(t, f)
	}
	assert.Zero(t, b.calls.Load())

	// Still failing on the next pass; A stays cached.
	report, err = c.ComputeAll(context.Background())
	require.NoError(t, err)
	_, failed := report.Failed("B")
	assert.True(t, failed)
	_, failed = report.Failed("A")
	assert.False(t, failed)
	assert.Equal(t, []string{"A"}, report.CacheHits)
}

func TestComputeAll_UnhealthyWithoutMessage(t *testing.T) {
	det := newMockDetector("quiet")
	det.healthy = false
	c := newTestCache(t, newMockDataset(1), DefaultOptions())
	register(t, c, det)

	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	f, ok := report.Failed("quiet")
	require.True(t, ok)
	assert.Equal(t, "detector reported unhealthy", f.Message)
}

func TestComputeAll_CacheHitOfUnhealthyDetectorKeepsResults(t *testing.T) {
	det := newMockDetector("flaky")
	c := newTestCache(t, newMockDataset(2), DefaultOptions())
	register(t, c, det)

	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	before, _ := c.Results("flaky")

	det.set(func(m *mockDetector) { m.healthy = false; m.lastErr = "gone" })
	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"flaky"}, report.CacheHits)
	f, ok := report.Failed("flaky")
	require.True(t, ok)
	assert.Equal(t, "gone", f.Message)

	assert.False(t, report.OK())

	after, _ := c.Results("flaky")
	assert.Same(t, before, after)
	require.Len(t, after.Frames, 2)
	assert.Len(t, after.Frames[1], 1)
}

func TestComputeAll_StaleUnhealthyDetectorIsEmptied(t *testing.T) {
	det := newMockDetector("flaky")
	c := newTestCache(t, newMockDataset(2), DefaultOptions())
	register(t, c, det)

	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)

	det.set(func(m *mockDetector) { m.healthy = false; m.version++ })
	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.CacheHits)
	_, failed := report.Failed("flaky")
	assert.True(t, failed)

	after, _ := c.Results("flaky")
	assert.False(t, after.Computed())
	assert.Len(t, after.Frames, 2)
}

func TestComputeAll_ExtractionErrorKeepsPreviousEntry(t *testing.T) {
	ds := newMockDataset(3)
	det := newMockDetector("d")
	c := newTestCache(t, ds, DefaultOptions())
	register(t, c, det)

	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	before, _ := c.Results("d")

	det.set(func(m *mockDetector) { m.version++; m.failOn = 1 })
	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	f, ok := report.Failed("d")
	require.True(t, ok)
	assert.Contains(t, f.Message, "input 1")
	assert.Empty(t, report.Recomputed)

	after, _ := c.Results("d")
	assert.Same(t, before, after)

	// Once the dataset moves on, stale results are dropped.
	ds.touch(4)
	_, err = c.ComputeAll(context.Background())
	require.NoError(t, err)
	after, _ = c.Results("d")
	assert.False(t, after.Computed())
	assert.Len(t, after.Frames, 4)

	// Fixed detector recovers on the next pass.
	det.set(func(m *mockDetector) { m.failOn = -1 })
	report, err = c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, report.Recomputed)
	after, _ = c.Results("d")
	assert.True(t, after.Computed())
	assert.Equal(t, 4, after.FrameCount())
}

func TestComputeAll_RecoversPanics(t *testing.T) {
	bad := newMockDetector("bad")
	bad.panicOn = 0
	good := newMockDetector("good")
	c := newTestCache(t, newMockDataset(2), DefaultOptions())
	register(t, c, bad, good)

	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	f, ok := report.Failed("bad")
	require.True(t, ok)
	assert.Contains(t, f.Message, "panicked")
	assert.Equal(t, []string{"good"}, report.Recomputed)
}

func TestComputeAll_DescriptorMismatchFails(t *testing.T) {
	det := newMockDetector("liar")
	det.joint = true
	det.badDesc = true
	c := newTestCache(t, newMockDataset(1), DefaultOptions())
	register(t, c, det)

	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	_, ok := report.Failed("liar")
	assert.True(t, ok)
}

func TestComputeAll_JointAndFallbackDescriptors(t *testing.T) {
	fb := &countingFallback{}
	opts := DefaultOptions()
	opts.Fallback = fb.describe

	joint := newMockDetector("joint")
	joint.joint = true
	plain := newMockDetector("plain")

	c := newTestCache(t, newMockDataset(3), opts)
	register(t, c, joint, plain)
	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 3, joint.withDescs.Load())
	assert.Zero(t, plain.withDescs.Load())
	assert.EqualValues(t, 3, fb.calls.Load(), "fallback runs once per input of the plain detector")

	rj, _ := c.Results("joint")
	for i, d := range rj.Descriptors {
		require.Len(t, d, 1)
		assert.Equal(t, feature.Descriptor{float32(i), 0}, d[0])
	}
	rp, _ := c.Results("plain")
	for _, d := range rp.Descriptors {
		require.Len(t, d, 1)
		assert.Equal(t, feature.Descriptor{-1}, d[0])
	}
}

func TestComputeAll_WithoutDescriptors(t *testing.T) {
	fb := &countingFallback{}
	opts := Options{Fallback: fb.describe}

	joint := newMockDetector("joint")
	joint.joint = true
	plain := newMockDetector("plain")

	c := newTestCache(t, newMockDataset(2), opts)
	register(t, c, joint, plain)
	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)

	assert.Zero(t, joint.withDescs.Load())
	assert.Zero(t, fb.calls.Load())
	for _, name := range []string{"joint", "plain"} {
		r, _ := c.Results(name)
		assert.Equal(t, 2, r.FrameCount(), name)
		require.Len(t, r.Descriptors, 2)
		for _, d := range r.Descriptors {
			assert.Nil(t, d, name)
		}
	}
}

func TestRegister_DedupReplacesDetector(t *testing.T) {
	ds := newMockDataset(2)
	v1 := newMockDetector("x")
	c := newTestCache(t, ds, DefaultOptions())
	register(t, c, v1)
	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	before, _ := c.Results("x")

	v2 := newMockDetector("x")
	register(t, c, v2)
	require.Len(t, c.Entries(), 1)
	after, _ := c.Results("x")
	assert.Same(t, before, after, "replacing the detector keeps the cached results")

	// Same signature: still a hit, and v2 is never called.
	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, report.CacheHits)
	assert.Zero(t, v2.calls.Load())

	// The entry now runs v2.
	v2.reconfigure()
	report, err = c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, report.Recomputed)
	assert.EqualValues(t, 2, v1.calls.Load())
	assert.EqualValues(t, 2, v2.calls.Load())
}

func TestRegister_WithoutDedup(t *testing.T) {
	first := newMockDetector("x")
	second := newMockDetector("x")
	second.version = 5
	c := newTestCache(t, newMockDataset(1), DefaultOptions())
	require.NoError(t, c.Register([]Detector{first}, WithoutDedup()))
	require.NoError(t, c.Register([]Detector{second}, WithoutDedup()))

	entries := c.Entries()
	require.Len(t, entries, 2)

	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "x"}, report.Recomputed)

	r, _ := c.Results("x")
	assert.Equal(t, first.Signature(), r.Signature)
}

func TestComputeAll_DatasetErrorsLeaveStateUntouched(t *testing.T) {
	ds := newMockDataset(2)
	det := newMockDetector("d")
	c := newTestCache(t, ds, DefaultOptions())
	register(t, c, det)
	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	snap := c.Snapshot()
	before, _ := c.Results("d")
	lastReport := c.LastReport()

	ds.sigErr = errBoom
	report, err := c.ComputeAll(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, report)

	ds.sigErr = nil
	ds.inputErr = errBoom
	ds.touch(3)
	report, err = c.ComputeAll(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, report)

	assert.Same(t, snap, c.Snapshot())
	after, _ := c.Results("d")
	assert.Same(t, before, after)
	assert.EqualValues(t, 2, det.calls.Load())

	failed := c.LastReport()
	require.NotNil(t, failed)
	assert.NotSame(t, lastReport, failed)
	assert.Contains(t, failed.Error, "boom")
	assert.False(t, failed.OK())
	assert.Empty(t, failed.Recomputed)
	assert.Empty(t, failed.CacheHits)

	ds.inputErr = nil
	report, err = c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Same(t, report, c.LastReport())
	assert.Empty(t, report.Error)
}

func TestComputeAll_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCache(t, newMockDataset(2), DefaultOptions())
	register(t, c, newMockDetector("d"))

	_, err := c.ComputeAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, c.Snapshot().Signature.IsEmpty())
}

func TestComputeAll_InterruptedMidPass(t *testing.T) {
	ds := newMockDataset(2)
	det := newMockDetector("slow")
	c := newTestCache(t, ds, DefaultOptions())
	register(t, c, det)
	_, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	before, _ := c.Results("slow")

	det.set(func(m *mockDetector) {
		m.version++
		m.delay = func(int) time.Duration { return time.Minute }
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := c.ComputeAll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, report)
	_, failed := report.Failed("slow")
	assert.True(t, failed)

	after, _ := c.Results("slow")
	assert.Same(t, before, after)
}

func TestComputeAll_RestoresFromStore(t *testing.T) {
	store := newMemoryStore()
	ds := newMockDataset(3)
	opts := DefaultOptions()
	opts.Store = store

	det := newMockDetector("d")
	c1 := newTestCache(t, ds, opts)
	register(t, c1, det)
	_, err := c1.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, store.saves.Load())
	computed, _ := c1.Results("d")

	fresh := newMockDetector("d")
	c2 := newTestCache(t, ds, opts)
	register(t, c2, fresh)
	report, err := c2.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, report.Restored)
	assert.Zero(t, fresh.calls.Load())

	restored, _ := c2.Results("d")
	assert.Equal(t, computed.Signature, restored.Signature)
	assert.Equal(t, computed.Frames, restored.Frames)

	// A store keyed without descriptors does not serve a descriptor run.
	noDesc := opts
	noDesc.ComputeDescriptors = false
	c3 := newTestCache(t, ds, noDesc)
	other := newMockDetector("d")
	register(t, c3, other)
	report, err = c3.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, report.Recomputed)
	assert.EqualValues(t, 3, other.calls.Load())
}

func TestComputeAll_RejectsInconsistentStoredResults(t *testing.T) {
	store := newMemoryStore()
	ds := newMockDataset(3)
	opts := DefaultOptions()
	opts.Store = store

	c1 := newTestCache(t, ds, opts)
	register(t, c1, newMockDetector("d"))
	_, err := c1.ComputeAll(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	require.Len(t, store.data, 1)
	for key, r := range store.data {
		bad := *r
		bad.Descriptors = append([]feature.Descriptors(nil), r.Descriptors...)
		bad.Descriptors[1] = feature.Descriptors{}
		store.data[key] = &bad
	}
	store.mu.Unlock()

	fresh := newMockDetector("d")
	c2 := newTestCache(t, ds, opts)
	register(t, c2, fresh)
	report, err := c2.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, report.Recomputed)
	assert.EqualValues(t, 3, fresh.calls.Load())

	res, _ := c2.Results("d")
	for i := range res.Frames {
		assert.NoError(t, res.Descriptors[i].Validate(res.Frames[i]))
	}
}

func TestComputeAll_StoreKeyTracksFallbackRoutine(t *testing.T) {
	store := newMemoryStore()
	ds := newMockDataset(2)
	fb := &countingFallback{}
	opts := DefaultOptions()
	opts.Store = store
	opts.Fallback = fb.describe
	opts.FallbackName = "v1"

	run := func(name string) (*Report, *mockDetector, *mockDetector) {
		o := opts
		o.FallbackName = name
		plain := newMockDetector("plain")
		joint := newMockDetector("joint")
		joint.joint = true
		c := newTestCache(t, ds, o)
		register(t, c, plain, joint)
		report, err := c.ComputeAll(context.Background())
		require.NoError(t, err)
		return report, plain, joint
	}

	report, _, _ := run("v1")
	assert.Equal(t, []string{"plain", "joint"}, report.Recomputed)

	// Native descriptors do not depend on the fallback routine.
	report, plain, joint := run("v2")
	assert.Equal(t, []string{"plain"}, report.Recomputed)
	assert.Equal(t, []string{"joint"}, report.Restored)
	assert.EqualValues(t, 2, plain.calls.Load())
	assert.Zero(t, joint.calls.Load())

	report, plain, _ = run("v1")
	assert.Equal(t, []string{"plain", "joint"}, report.Restored)
	assert.Zero(t, plain.calls.Load())
}

func TestNew_DerivesFallbackName(t *testing.T) {
	c := newTestCache(t, newMockDataset(1), DefaultOptions())
	assert.Contains(t, c.opts.FallbackName, "descriptor.Patch")

	fb := &countingFallback{}
	c = newTestCache(t, newMockDataset(1), Options{Fallback: fb.describe})
	assert.Contains(t, c.opts.FallbackName, "countingFallback")

	c = newTestCache(t, newMockDataset(1), Options{Fallback: fb.describe, FallbackName: "lab-v2"})
	assert.Equal(t, "lab-v2", c.opts.FallbackName)
}

func TestComputeAll_StoreErrorsFallBackToCompute(t *testing.T) {
	store := newMemoryStore()
	store.err = errBoom
	opts := DefaultOptions()
	opts.Store = store

	det := newMockDetector("d")
	c := newTestCache(t, newMockDataset(2), opts)
	register(t, c, det)
	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, report.Recomputed)
	assert.True(t, report.OK())
}

func TestCache_EntriesAndReport(t *testing.T) {
	joint := newMockDetector("joint")
	joint.joint = true
	plain := newMockDetector("plain")

	c := newTestCache(t, newMockDataset(2), DefaultOptions())
	assert.Nil(t, c.LastReport())
	register(t, c, joint, plain)

	report, err := c.ComputeAll(context.Background())
	require.NoError(t, err)
	assert.Same(t, report, c.LastReport())
	assert.Equal(t, "mock", report.Dataset)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "joint", entries[0].Name)
	assert.True(t, entries[0].Computed)
	assert.True(t, entries[0].SupportsDescriptors)
	assert.Equal(t, 2, entries[0].Inputs)
	assert.Equal(t, 2, entries[0].Frames)
	assert.Equal(t, 2, entries[0].DescriptorDim)
	assert.Equal(t, "plain", entries[1].Name)
	assert.False(t, entries[1].SupportsDescriptors)
}

func TestCache_ConcurrentReadersSeeWholeEntries(t *testing.T) {
	ds := newMockDataset(4)
	det := newMockDetector("d")
	c := newTestCache(t, ds, DefaultOptions())
	register(t, c, det)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				r, ok := c.Results("d")
				if !ok || !r.Computed() {
					continue
				}
				// Every slot of an entry comes from the same computation.
				version := r.Frames[0][0].Y
				for _, f := range r.Frames {
					if len(f) != 1 || f[0].Y != version {
						t.Errorf("torn entry: %+v", r.Frames)
						return
					}
				}
				_ = c.Entries()
			}
		}()
	}

	for range 10 {
		det.reconfigure()
		_, err := c.ComputeAll(context.Background())
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
}

func TestComputeAll_SerializesPasses(t *testing.T) {
	det := newMockDetector("d")
	c := newTestCache(t, newMockDataset(3), DefaultOptions())
	register(t, c, det)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ComputeAll(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 3, det.calls.Load(), "only the first pass extracts")
}
