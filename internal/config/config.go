// Package config loads featbench configuration.
//
// Values are layered, later layers overriding earlier ones:
//
//  1. Built-in defaults
//  2. An optional YAML file
//  3. FEATBENCH_ environment variables
//
// Environment names map to keys by dropping the prefix, lower-casing and
// turning double underscores into dots:
//
//	FEATBENCH_DATASET__PATH=/data/graf       -> dataset.path
//	FEATBENCH_BENCH__INPUT_WORKERS=4         -> bench.input_workers
//	FEATBENCH_LOGGING__LEVEL=debug           -> logging.level
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/ironsheep/featbench/internal/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEATBENCH_"

// PathEnvVar names the environment variable that points at a config file.
const PathEnvVar = EnvPrefix + "CONFIG"

// DefaultPaths are searched, in order, when no config file is given.
var DefaultPaths = []string{
	"featbench.yaml",
	"featbench.yml",
}

// Config is the complete featbench configuration.
type Config struct {
	Dataset DatasetConfig `koanf:"dataset"`
	Suite   SuiteConfig   `koanf:"suite"`
	Bench   BenchConfig   `koanf:"bench"`
	Store   StoreConfig   `koanf:"store"`
	Logging LoggingConfig `koanf:"logging"`
	HTTP    HTTPConfig    `koanf:"http"`
	Watch   WatchConfig   `koanf:"watch"`
}

// DatasetConfig locates the image dataset.
type DatasetConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// SuiteConfig locates the detector suite file.
type SuiteConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// BenchConfig tunes the result cache.
type BenchConfig struct {
	ComputeDescriptors bool `koanf:"compute_descriptors"`

	// Zero means one worker per CPU.
	DetectorWorkers int `koanf:"detector_workers" validate:"gte=0"`
	InputWorkers    int `koanf:"input_workers" validate:"gte=0"`
}

// StoreConfig configures the persistent result store.
type StoreConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Path       string        `koanf:"path" validate:"required_if=Enabled true InMemory false"`
	InMemory   bool          `koanf:"in_memory"`
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval" validate:"gte=0"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled off"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// HTTPConfig configures the HTTP listener of the serve command.
type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// WatchConfig tunes watch mode.
type WatchConfig struct {
	// Debounce is how long the dataset must be quiet before a pass runs.
	Debounce time.Duration `koanf:"debounce" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bench: BenchConfig{ComputeDescriptors: true},
		Store: StoreConfig{
			Path:       ".featbench/store",
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8080"},
		Watch:   WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// Load layers defaults, the config file at path and the environment.
//
// An empty path falls back to FEATBENCH_CONFIG and then to DefaultPaths;
// finding no file is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	return validation.Struct(c)
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps FEATBENCH_BENCH__INPUT_WORKERS to bench.input_workers.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}
