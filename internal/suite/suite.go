// Package suite loads detector suites from YAML files.
//
// A suite lists named detectors with their type and options:
//
//	name: shapes
//	detectors:
//	  - name: circles-small
//	    type: circles
//	    options:
//	      min_radius: 3
//	      max_radius: 20
//	  - name: dog
//	    type: dog
//
// Options omitted from a detector keep the type's defaults. Every option
// set is validated before any detector is built.
package suite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/validation"
)

// Suite is a parsed suite file.
type Suite struct {
	Name      string     `yaml:"name"`
	Detectors []Detector `yaml:"detectors" validate:"min=1,dive"`
}

// Detector is one suite entry.
type Detector struct {
	Name    string    `yaml:"name" validate:"required"`
	Type    string    `yaml:"type" validate:"required"`
	Options yaml.Node `yaml:"options" validate:"-"`
}

// Load reads and validates the suite at path.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a suite.
func Parse(r io.Reader) (*Suite, error) {
	var s Suite
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("suite is empty")
		}
		return nil, fmt.Errorf("decode suite: %w", err)
	}
	if err := validation.Struct(s); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(s.Detectors))
	for _, d := range s.Detectors {
		if seen[d.Name] {
			return nil, fmt.Errorf("detector %q is defined twice", d.Name)
		}
		seen[d.Name] = true
	}
	return &s, nil
}

// Build constructs every detector of the suite with the default registry.
func (s *Suite) Build() ([]bench.Detector, error) {
	return DefaultRegistry().Build(s)
}
