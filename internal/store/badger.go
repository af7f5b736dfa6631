// Package store persists detector results in an embedded BadgerDB so that a
// new process can skip extractions an earlier one already performed.
//
// Values are JSON-encoded bench.Results. Keys are derived from every
// component of bench.StoreKey, so a change in any signature or in the
// descriptor mode addresses a different record.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/logging"
)

const keyPrefix = "results/"

// Config holds configuration for a Badger store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string `koanf:"path"`

	// InMemory keeps the database in memory; useful for tests.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every write.
	SyncWrites bool `koanf:"sync_writes"`

	// GCInterval is how often value log garbage collection runs.
	// Zero disables it.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// DefaultConfig returns a persistent configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// Badger is a bench.ResultStore backed by BadgerDB.
type Badger struct {
	db   *badger.DB
	log  zerolog.Logger
	stop chan struct{}
	done chan struct{}
}

var _ bench.ResultStore = (*Badger)(nil)

// badgerLogger adapts zerolog to badger's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}

// Open opens the database described by cfg. The caller must Close it.
func Open(cfg Config) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	log := logging.Component("store")
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Badger{db: db, log: log, stop: make(chan struct{}), done: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.gcLoop(cfg.GCInterval)
	} else {
		close(s.done)
	}
	log.Debug().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("result store opened")
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Badger) Close() error {
	close(s.stop)
	<-s.done
	return s.db.Close()
}

func (s *Badger) gcLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Key returns the database key of k.
func Key(k bench.StoreKey) []byte {
	mode := "frames"
	if k.Descriptors {
		mode = "descriptors"
		if k.Fallback != "" {
			mode += "+" + url.PathEscape(k.Fallback)
		}
	}
	return []byte(detectorPrefix(k.Detector) +
		string(k.DetectorSignature) + "/" +
		string(k.DatasetSignature) + "/" +
		mode)
}

func detectorPrefix(name string) string {
	return keyPrefix + url.PathEscape(name) + "/"
}

// Load returns the results stored under key.
func (s *Badger) Load(ctx context.Context, key bench.StoreKey) (*bench.Results, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var res bench.Results
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &res)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load results of %s: %w", key.Detector, err)
	}
	return &res, true, nil
}

// Save stores r under key, replacing any previous value.
func (s *Badger) Save(ctx context.Context, key bench.StoreKey, r *bench.Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(Key(key), data)
	})
	if err != nil {
		return fmt.Errorf("save results of %s: %w", key.Detector, err)
	}
	s.log.Debug().Str("detector", key.Detector).Int("bytes", len(data)).Msg("results saved")
	return nil
}

// Purge deletes every record of detector, or of all detectors when
// detector is empty, and returns how many were removed.
func (s *Badger) Purge(ctx context.Context, detector string) (int, error) {
	prefix := []byte(keyPrefix)
	if detector != "" {
		prefix = []byte(detectorPrefix(detector))
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list results: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete results: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush deletes: %w", err)
	}
	return len(keys), nil
}

// Count returns the number of stored records.
func (s *Badger) Count() (int, error) {
	n := 0
	prefix := []byte(keyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
