package main

import (
	"errors"
	"fmt"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/config"
	"github.com/ironsheep/featbench/internal/dataset"
	"github.com/ironsheep/featbench/internal/logging"
	"github.com/ironsheep/featbench/internal/store"
	"github.com/ironsheep/featbench/internal/suite"
)

// app wires a cache to the configured dataset, suite and store.
type app struct {
	cfg     *config.Config
	dataset *dataset.Dir
	cache   *bench.Cache
	store   *store.Badger
}

func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ds, err := dataset.NewDir(cfg.Dataset.Path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, dataset: ds}
	opts := bench.Options{
		ComputeDescriptors: cfg.Bench.ComputeDescriptors,
		DetectorWorkers:    cfg.Bench.DetectorWorkers,
		InputWorkers:       cfg.Bench.InputWorkers,
	}
	if cfg.Store.Enabled {
		s, err := openStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		a.store = s
		opts.Store = s
	}

	a.cache, err = bench.New(ds, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	dets, err := a.loadSuite()
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.cache.Register(dets); err != nil {
		a.Close()
		return nil, err
	}
	logging.Info().
		Str("dataset", ds.Root()).
		Str("suite", cfg.Suite.Path).
		Int("detectors", len(dets)).
		Bool("store", a.store != nil).
		Msg("featbench ready")
	return a, nil
}

func openStore(cfg config.StoreConfig) (*store.Badger, error) {
	return store.Open(store.Config{
		Path:       cfg.Path,
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
		GCInterval: cfg.GCInterval,
	})
}

// loadSuite reads the suite file and builds its detectors.
func (a *app) loadSuite() ([]bench.Detector, error) {
	s, err := suite.Load(a.cfg.Suite.Path)
	if err != nil {
		return nil, err
	}
	dets, err := s.Build()
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", a.cfg.Suite.Path, err)
	}
	return dets, nil
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

var errFailures = errors.New("one or more detectors failed")
