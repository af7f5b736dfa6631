package bench

import (
	"context"
	"fmt"
	"image"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/featbench/internal/descriptor"
	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/logging"
	"github.com/ironsheep/featbench/internal/signature"
)

// entry is one registered detector. Its results are replaced as a whole.
type entry struct {
	name     string
	detector Detector // guarded by Cache.mu
	state    atomic.Pointer[Results]
}

// Cache is the signature-keyed result cache. Its methods are safe for
// concurrent use; ComputeAll passes are serialized.
type Cache struct {
	dataset Dataset
	opts    Options
	log     zerolog.Logger

	mu      sync.RWMutex
	entries []*entry

	pass     sync.Mutex
	snapshot atomic.Pointer[DatasetSnapshot]
	report   atomic.Pointer[Report]
}

// New returns an empty cache over ds.
func New(ds Dataset, opts Options) (*Cache, error) {
	if ds == nil {
		return nil, ErrNilDataset
	}
	if opts.Fallback == nil {
		opts.Fallback = descriptor.Patch
	}
	if opts.FallbackName == "" {
		opts.FallbackName = funcName(opts.Fallback)
	}
	if opts.DetectorWorkers <= 0 {
		opts.DetectorWorkers = runtime.GOMAXPROCS(0)
	}
	if opts.InputWorkers <= 0 {
		opts.InputWorkers = runtime.GOMAXPROCS(0)
	}

	c := &Cache{dataset: ds, opts: opts}
	if opts.Logger != nil {
		c.log = *opts.Logger
	} else {
		c.log = logging.Component("bench")
	}
	c.snapshot.Store(&DatasetSnapshot{Signature: signature.Empty})
	return c, nil
}

// Dataset returns the dataset the cache was created with.
func (c *Cache) Dataset() Dataset {
	return c.dataset
}

// RegisterOption alters Register.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	dedup bool
}

// WithoutDedup appends every detector as a new entry even when one with
// the same name exists.
func WithoutDedup() RegisterOption {
	return func(rc *registerConfig) { rc.dedup = false }
}

// Register adds detectors to the cache.
//
// By default a detector whose name is already registered replaces the
// existing entry's detector in place: the entry keeps its signature and
// results, and the next ComputeAll decides whether they are stale.
// Every detector is validated before any entry is touched.
func (c *Cache) Register(dets []Detector, opts ...RegisterOption) error {
	rc := registerConfig{dedup: true}
	for _, o := range opts {
		o(&rc)
	}

	for i, d := range dets {
		if d == nil {
			return fmt.Errorf("detector %d: %w", i, ErrNilDetector)
		}
		if d.Name() == "" {
			return fmt.Errorf("detector %d: %w", i, ErrEmptyName)
		}
	}

	inputs := len(c.snapshot.Load().Inputs)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range dets {
		name := d.Name()
		if rc.dedup {
			if e := c.findLocked(name); e != nil {
				e.detector = d
				c.log.Debug().Str("detector", name).Msg("detector replaced")
				continue
			}
		}
		e := &entry{name: name, detector: d}
		e.state.Store(emptyResults(inputs))
		c.entries = append(c.entries, e)
		c.log.Debug().Str("detector", name).Msg("detector registered")
	}
	return nil
}

func (c *Cache) findLocked(name string) *entry {
	for _, e := range c.entries {
		if e.name == name {
			return e
		}
	}
	return nil
}

// Results returns the current results of the first entry named name.
func (c *Cache) Results(name string) (*Results, bool) {
	c.mu.RLock()
	e := c.findLocked(name)
	c.mu.RUnlock()
	if e == nil {
		return nil, false
	}
	return e.state.Load(), true
}

// Snapshot returns the dataset snapshot of the last successful load.
func (c *Cache) Snapshot() *DatasetSnapshot {
	return c.snapshot.Load()
}

// LastReport returns the report of the most recent pass, or nil.
func (c *Cache) LastReport() *Report {
	return c.report.Load()
}

// Entries summarises every entry in registration order.
func (c *Cache) Entries() []EntryInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]EntryInfo, 0, len(c.entries))
	for _, e := range c.entries {
		r := e.state.Load()
		info := EntryInfo{
			Name:                e.name,
			Signature:           r.Signature,
			Computed:            r.Computed(),
			Inputs:              len(r.Frames),
			Frames:              r.FrameCount(),
			SupportsDescriptors: e.detector.SupportsDescriptors(),
		}
		for _, d := range r.Descriptors {
			if dim := d.Dim(); dim > 0 {
				info.DescriptorDim = dim
				break
			}
		}
		out = append(out, info)
	}
	return out
}

type job struct {
	entry    *entry
	detector Detector
}

// ComputeAll brings every entry up to date with the dataset and its
// detector, and reports the outcome per detector.
//
// An error is returned only when the dataset cannot be fingerprinted or
// loaded; the previous snapshot and every entry are then left untouched,
// and LastReport returns a report carrying the error.
// If ctx is cancelled mid-pass the report is still returned, together with
// the context error; interrupted detectors appear as failures.
func (c *Cache) ComputeAll(ctx context.Context) (*Report, error) {
	c.pass.Lock()
	defer c.pass.Unlock()

	start := time.Now()
	report := &Report{
		RunID:     uuid.NewString(),
		Dataset:   c.dataset.Name(),
		StartedAt: start,
	}
	log := c.log.With().Str("run_id", report.RunID).Logger()

	dsSig, err := c.dataset.Signature()
	if err != nil {
		return nil, c.abort(log, report, fmt.Errorf("dataset signature: %w", err))
	}
	if dsSig.IsEmpty() {
		return nil, c.abort(log, report, fmt.Errorf("dataset %s returned an empty signature", c.dataset.Name()))
	}

	snap := c.snapshot.Load()
	reloaded := dsSig != snap.Signature
	if reloaded {
		fresh, err := c.load(ctx, dsSig)
		if err != nil {
			return nil, c.abort(log, report, err)
		}
		c.snapshot.Store(fresh)
		snap = fresh
		datasetReloadsTotal.Inc()
		log.Info().
			Str("dataset", report.Dataset).
			Str("signature", dsSig.Short()).
			Int("inputs", len(snap.Inputs)).
			Msg("dataset reloaded")
	}
	report.DatasetSignature = dsSig
	report.DatasetReloaded = reloaded
	report.Inputs = len(snap.Inputs)

	c.mu.RLock()
	jobs := make([]job, len(c.entries))
	for i, e := range c.entries {
		jobs[i] = job{entry: e, detector: e.detector}
	}
	c.mu.RUnlock()

	outcomes := make([]outcome, len(jobs))
	g := new(errgroup.Group)
	g.SetLimit(c.opts.DetectorWorkers)
	for i, j := range jobs {
		g.Go(func() error {
			outcomes[i] = c.process(ctx, log, j, snap, reloaded)
			return nil // failures never cross detector boundaries
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		name := jobs[i].entry.name
		switch o.kind {
		case outcomeHit:
			report.CacheHits = append(report.CacheHits, name)
		case outcomeRecomputed:
			report.Recomputed = append(report.Recomputed, name)
		case outcomeRestored:
			report.Restored = append(report.Restored, name)
		}
		if o.failure != "" {
			report.Failures = append(report.Failures, Failure{Detector: name, Message: o.failure})
		}
	}

	report.Duration = time.Since(start)
	computeDuration.Observe(report.Duration.Seconds())
	c.report.Store(report)

	log.Info().
		Bool("reloaded", reloaded).
		Int("recomputed", len(report.Recomputed)).
		Int("restored", len(report.Restored)).
		Int("hits", len(report.CacheHits)).
		Int("failures", len(report.Failures)).
		Dur("duration", report.Duration).
		Msg("compute pass finished")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("compute interrupted: %w", err)
	}
	return report, nil
}

// abort records a pass that failed at the dataset level and returns err.
// Entries and the snapshot are not touched.
func (c *Cache) abort(log zerolog.Logger, report *Report, err error) error {
	report.Error = err.Error()
	report.Duration = time.Since(report.StartedAt)
	c.report.Store(report)
	log.Error().Err(err).Msg("compute pass aborted")
	return err
}

func funcName(fn DescriptorFunc) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "fallback"
}

// load reads every input and transform into a new snapshot.
func (c *Cache) load(ctx context.Context, sig signature.Signature) (*DatasetSnapshot, error) {
	n, err := c.dataset.NumInputs()
	if err != nil {
		return nil, fmt.Errorf("count dataset inputs: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("dataset reported %d inputs", n)
	}

	inputs := make([]image.Image, n)
	transforms := make([]feature.Homography, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.InputWorkers)
	for i := range n {
		g.Go(func() error {
			img, err := c.dataset.Input(gctx, i)
			if err != nil {
				return fmt.Errorf("load input %d: %w", i, err)
			}
			if img == nil {
				return fmt.Errorf("load input %d: dataset returned no image", i)
			}
			h, err := c.dataset.Transform(i)
			if err != nil {
				return fmt.Errorf("load transform %d: %w", i, err)
			}
			inputs[i] = img
			transforms[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &DatasetSnapshot{
		Signature:  sig,
		Inputs:     inputs,
		Transforms: transforms,
		LoadedAt:   time.Now(),
	}, nil
}
