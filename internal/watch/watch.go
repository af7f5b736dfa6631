// Package watch reruns computation passes when the dataset directory or the
// detector suite file changes.
//
// Events are debounced: a pass starts once no event has arrived for the
// debounce window. Editing the suite file re-registers its detectors before
// the pass, so only detectors whose options changed are recomputed.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/logging"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// DatasetDir is watched for image and homography changes.
	DatasetDir string

	// SuitePath and Loader are optional. When both are set, changes to the
	// suite file re-register the detectors Loader returns.
	SuitePath string
	Loader    func() ([]bench.Detector, error)

	Debounce time.Duration

	// OnReport, if set, receives the report of every pass.
	OnReport func(*bench.Report)
}

// Watcher drives a cache from file system events.
type Watcher struct {
	cache *bench.Cache
	cfg   Config
	suite string
	log   zerolog.Logger
}

// New returns a watcher over cache.
func New(cache *bench.Cache, cfg Config) (*Watcher, error) {
	if cfg.DatasetDir == "" {
		return nil, errors.New("watch: dataset directory is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	w := &Watcher{cache: cache, cfg: cfg, log: logging.Component("watch")}
	if cfg.SuitePath != "" {
		abs, err := filepath.Abs(cfg.SuitePath)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve suite path: %w", err)
		}
		w.suite = abs
	}
	return w, nil
}

// Run performs an initial pass and then one pass per debounced batch of
// changes until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.DatasetDir); err != nil {
		return fmt.Errorf("watch dataset %s: %w", w.cfg.DatasetDir, err)
	}
	// Editors replace files by rename, so the suite's directory is watched.
	if w.suite != "" && filepath.Dir(w.suite) != filepath.Clean(w.cfg.DatasetDir) {
		if err := fw.Add(filepath.Dir(w.suite)); err != nil {
			return fmt.Errorf("watch suite %s: %w", w.suite, err)
		}
	}
	w.log.Info().
		Str("dataset", w.cfg.DatasetDir).
		Str("suite", w.suite).
		Dur("debounce", w.cfg.Debounce).
		Msg("watching for changes")

	w.pass(ctx, false)

	var (
		timer        *time.Timer
		timerC       <-chan time.Time
		suiteChanged bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			isSuite := w.suite != "" && filepath.Clean(event.Name) == w.suite
			if !isSuite && !w.inDataset(event.Name) {
				continue
			}
			suiteChanged = suiteChanged || isSuite
			w.log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("change detected")
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.cfg.Debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watcher error")

		case <-timerC:
			timer, timerC = nil, nil
			w.pass(ctx, suiteChanged)
			suiteChanged = false
		}
	}
}

func (w *Watcher) inDataset(path string) bool {
	return filepath.Dir(filepath.Clean(path)) == filepath.Clean(w.cfg.DatasetDir)
}

// pass optionally reloads the suite and then runs ComputeAll. A suite that
// fails to load leaves the registered detectors in place.
func (w *Watcher) pass(ctx context.Context, reloadSuite bool) {
	if reloadSuite && w.cfg.Loader != nil {
		dets, err := w.cfg.Loader()
		if err != nil {
			w.log.Error().Err(err).Msg("suite reload failed; keeping current detectors")
		} else if err := w.cache.Register(dets); err != nil {
			w.log.Error().Err(err).Msg("suite registration failed")
		} else {
			w.log.Info().Int("detectors", len(dets)).Msg("suite reloaded")
		}
	}

	report, err := w.cache.ComputeAll(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("compute pass failed")
	}
	if report != nil && w.cfg.OnReport != nil {
		w.cfg.OnReport(report)
	}
}
