package suite

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/detection"
	"github.com/ironsheep/featbench/internal/ocr"
	"github.com/ironsheep/featbench/internal/validation"
)

// Factory builds a detector from its name and raw options.
type Factory func(name string, options *yaml.Node) (bench.Detector, error)

// Registry maps detector types to factories.
type Registry map[string]Factory

// DefaultRegistry returns factories for every built-in detector type.
func DefaultRegistry() Registry {
	return Registry{
		detection.KindCircles: factory(detection.DefaultCirclesOptions, func(name string, o detection.CirclesOptions) bench.Detector {
			return detection.NewCircles(name, o)
		}),
		detection.KindRectangles: factory(detection.DefaultRectanglesOptions, func(name string, o detection.RectanglesOptions) bench.Detector {
			return detection.NewRectangles(name, o)
		}),
		detection.KindLines: factory(detection.DefaultLinesOptions, func(name string, o detection.LinesOptions) bench.Detector {
			return detection.NewLines(name, o)
		}),
		detection.KindRegions: factory(detection.DefaultRegionsOptions, func(name string, o detection.RegionsOptions) bench.Detector {
			return detection.NewRegions(name, o)
		}),
		detection.KindDoG: factory(detection.DefaultDoGOptions, func(name string, o detection.DoGOptions) bench.Detector {
			return detection.NewDoG(name, o)
		}),
		detection.KindExec: factory(func() detection.ExecOptions { return detection.ExecOptions{} }, func(name string, o detection.ExecOptions) bench.Detector {
			return detection.NewExec(name, o)
		}),
		ocr.Kind: factory(ocr.DefaultOptions, func(name string, o ocr.Options) bench.Detector {
			return ocr.New(name, o)
		}),
	}
}

// Types returns the registered type names in sorted order.
func (r Registry) Types() []string {
	types := make([]string, 0, len(r))
	for t := range r {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build constructs every detector of s. Nothing is returned unless all of
// them build.
func (r Registry) Build(s *Suite) ([]bench.Detector, error) {
	dets := make([]bench.Detector, 0, len(s.Detectors))
	for _, d := range s.Detectors {
		f, ok := r[d.Type]
		if !ok {
			return nil, fmt.Errorf("detector %q: unknown type %q (known: %v)", d.Name, d.Type, r.Types())
		}
		det, err := f(d.Name, &d.Options)
		if err != nil {
			return nil, fmt.Errorf("detector %q: %w", d.Name, err)
		}
		dets = append(dets, det)
	}
	return dets, nil
}

// factory decodes options over defaults, validates them and builds.
func factory[T any](defaults func() T, build func(string, T) bench.Detector) Factory {
	return func(name string, node *yaml.Node) (bench.Detector, error) {
		opts := defaults()
		if node != nil && !node.IsZero() {
			if err := decodeStrict(node, &opts); err != nil {
				return nil, fmt.Errorf("decode options: %w", err)
			}
		}
		if err := validation.Struct(opts); err != nil {
			return nil, err
		}
		return build(name, opts), nil
	}
}

// decodeStrict decodes node into v, rejecting keys v has no field for.
func decodeStrict(node *yaml.Node, v any) error {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(v)
}
