package bench

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

type outcomeKind int

const (
	outcomeFailed outcomeKind = iota
	outcomeHit
	outcomeRecomputed
	outcomeRestored
)

type outcome struct {
	kind    outcomeKind
	failure string
}

// process decides whether one entry is stale and refreshes it.
//
// On failure the entry keeps its previous state when the dataset is
// unchanged, and is reset to empty slots when the dataset was reloaded, so
// its slot count always matches the current inputs.
//
// A detector that turned unhealthy without going stale is reported as a
// failure but keeps its cached results; they are still valid for its
// unchanged signature. Only a stale unhealthy detector is emptied.
func (c *Cache) process(ctx context.Context, log zerolog.Logger, j job, snap *DatasetSnapshot, reloaded bool) outcome {
	e, det := j.entry, j.detector
	log = log.With().Str("detector", e.name).Logger()
	n := len(snap.Inputs)

	sig, err := detectorSignature(det)
	if err != nil {
		return c.fail(log, e, n, reloaded, err.Error())
	}

	prev := e.state.Load()
	if !reloaded && sig == prev.Signature {
		cacheHitsTotal.WithLabelValues(e.name).Inc()
		log.Debug().Str("signature", sig.Short()).Msg("cache hit")
		if healthy, msg := detectorHealth(det); !healthy {
			failuresTotal.WithLabelValues(e.name).Inc()
			return outcome{kind: outcomeHit, failure: msg}
		}
		return outcome{kind: outcomeHit}
	}

	if healthy, msg := detectorHealth(det); !healthy {
		e.state.Store(emptyResults(n))
		failuresTotal.WithLabelValues(e.name).Inc()
		log.Warn().Str("reason", msg).Msg("detector unhealthy")
		return outcome{kind: outcomeFailed, failure: msg}
	}

	key := StoreKey{
		Detector:          e.name,
		DetectorSignature: sig,
		DatasetSignature:  snap.Signature,
		Descriptors:       c.opts.ComputeDescriptors,
	}
	if key.Descriptors && !det.SupportsDescriptors() {
		key.Fallback = c.opts.FallbackName
	}
	if restored := c.restore(ctx, log, key, n); restored != nil {
		e.state.Store(restored)
		restoresTotal.WithLabelValues(e.name).Inc()
		log.Info().Str("signature", sig.Short()).Msg("results restored from store")
		return outcome{kind: outcomeRestored}
	}

	start := time.Now()
	res, err := c.runDetector(ctx, det, snap)
	if err != nil {
		return c.fail(log, e, n, reloaded, err.Error())
	}
	res.Signature = sig
	e.state.Store(res)
	recomputationsTotal.WithLabelValues(e.name).Inc()
	log.Info().
		Str("signature", sig.Short()).
		Int("frames", res.FrameCount()).
		Dur("duration", time.Since(start)).
		Msg("detector recomputed")

	if c.opts.Store != nil {
		if err := c.opts.Store.Save(ctx, key, res); err != nil {
			log.Warn().Err(err).Msg("failed to persist results")
		}
	}
	return outcome{kind: outcomeRecomputed}
}

func (c *Cache) fail(log zerolog.Logger, e *entry, n int, reloaded bool, msg string) outcome {
	if reloaded {
		e.state.Store(emptyResults(n))
	}
	failuresTotal.WithLabelValues(e.name).Inc()
	log.Warn().Str("reason", msg).Bool("cache_preserved", !reloaded).Msg("detector failed")
	return outcome{kind: outcomeFailed, failure: msg}
}

// restore returns stored results that fit the current dataset, or nil.
func (c *Cache) restore(ctx context.Context, log zerolog.Logger, key StoreKey, n int) *Results {
	if c.opts.Store == nil {
		return nil
	}
	r, ok, err := c.opts.Store.Load(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("result store lookup failed")
		return nil
	}
	if !ok || r == nil || len(r.Frames) != n || len(r.Descriptors) != n {
		return nil
	}
	for i, f := range r.Frames {
		if f == nil {
			return nil
		}
		if !key.Descriptors {
			continue
		}
		if r.Descriptors[i] == nil {
			log.Warn().Int("input", i).Msg("stored results lack descriptors")
			return nil
		}
		if err := r.Descriptors[i].Validate(f); err != nil {
			log.Warn().Err(err).Int("input", i).Msg("stored results are inconsistent")
			return nil
		}
	}
	out := *r
	out.Signature = key.DetectorSignature
	return &out
}

// runDetector extracts every input of snap with det. Any input failure
// abandons the whole run.
func (c *Cache) runDetector(ctx context.Context, det Detector, snap *DatasetSnapshot) (*Results, error) {
	n := len(snap.Inputs)
	res := &Results{
		Frames:      make([]feature.Frames, n),
		Descriptors: make([]feature.Descriptors, n),
	}
	joint := c.opts.ComputeDescriptors && det.SupportsDescriptors()
	name := det.Name()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.InputWorkers)
	for i, img := range snap.Inputs {
		g.Go(func() error {
			start := time.Now()
			frames, descs, err := c.extract(gctx, det, img, joint)
			extractDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			res.Frames[i] = frames
			res.Descriptors[i] = descs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// extract produces the frames of one input and, when requested, their
// descriptors, natively or through the fallback routine.
func (c *Cache) extract(ctx context.Context, det Detector, img image.Image, joint bool) (feature.Frames, feature.Descriptors, error) {
	frames, descs, err := safeExtract(ctx, det, img, joint)
	if err != nil {
		return nil, nil, err
	}
	if frames == nil {
		frames = feature.Frames{}
	}

	if !c.opts.ComputeDescriptors {
		return frames, nil, nil
	}
	if !joint {
		descs, err = c.opts.Fallback(ctx, img, frames)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback descriptors: %w", err)
		}
	}
	if descs == nil {
		descs = feature.Descriptors{}
	}
	if err := descs.Validate(frames); err != nil {
		return nil, nil, err
	}
	return frames, descs, nil
}

var errPanic = errors.New("detector panicked")

func safeExtract(ctx context.Context, det Detector, img image.Image, joint bool) (frames feature.Frames, descs feature.Descriptors, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return det.Extract(ctx, img, joint)
}

func detectorSignature(det Detector) (sig signature.Signature, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in Signature: %v", errPanic, r)
		}
	}()
	sig = det.Signature()
	if sig.IsEmpty() {
		return sig, errors.New("detector returned an empty signature")
	}
	return sig, nil
}

func detectorHealth(det Detector) (healthy bool, msg string) {
	defer func() {
		if r := recover(); r != nil {
			healthy, msg = false, fmt.Sprintf("%v in Healthy: %v", errPanic, r)
		}
	}()
	if det.Healthy() {
		return true, ""
	}
	msg = det.LastError()
	if msg == "" {
		msg = "detector reported unhealthy"
	}
	return false, msg
}
