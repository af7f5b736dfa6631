package detection

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

// Argument placeholders substituted by the exec detector.
const (
	PlaceholderInput  = "{input}"
	PlaceholderOutput = "{output}"
)

// ExecOptions configures a detector backed by an external binary.
type ExecOptions struct {
	// Binary is a path or a name looked up in PATH.
	Binary string `yaml:"binary" json:"binary" validate:"required"`

	// Args are passed to the binary. {input} is replaced by the path of a
	// PNG copy of the image and {output} by a file the binary writes its
	// frames to. Without {output} the frames are read from stdout.
	Args []string `yaml:"args" json:"args"`

	// Descriptors declares that every output line carries descriptor
	// components after the four frame columns.
	Descriptors bool `yaml:"descriptors" json:"descriptors"`

	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// Exec runs an external detector once per image.
//
// The binary must print one frame per line as whitespace-separated numbers:
//
//	x y scale angle [d1 d2 ... dn]
//
// Empty lines and lines starting with '#' are ignored.
//
// The detector is unhealthy while the binary cannot be found or is not
// executable. Its signature covers the options and the binary's file stamp,
// so rebuilding the binary invalidates its cached results.
type Exec struct {
	name string
	opts ExecOptions

	mu      sync.Mutex
	missing string
	lastErr string
}

// NewExec returns an external binary detector. The binary is resolved
// lazily; a missing binary only makes the detector unhealthy.
func NewExec(name string, opts ExecOptions) *Exec {
	e := &Exec{name: name, opts: opts}
	e.resolve()
	return e
}

// Name returns the registered detector name.
func (e *Exec) Name() string { return e.name }

// SupportsDescriptors reports whether the binary emits descriptors.
func (e *Exec) SupportsDescriptors() bool { return e.opts.Descriptors }

func (e *Exec) resolve() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	path, err := exec.LookPath(e.opts.Binary)
	if err != nil {
		e.missing = fmt.Sprintf("detector binary %q: %v", e.opts.Binary, err)
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	e.missing = ""
	return path, nil
}

// Healthy reports whether the binary can currently be executed.
func (e *Exec) Healthy() bool {
	_, err := e.resolve()
	return err == nil
}

// LastError returns the reason the detector is unhealthy, or the error of
// the last failed invocation.
func (e *Exec) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.missing != "" {
		return e.missing
	}
	return e.lastErr
}

func (e *Exec) fail(err error) error {
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
	return err
}

// Signature fingerprints the options and the binary stamp. A missing
// binary folds a marker instead, so the signature changes once it appears.
func (e *Exec) Signature() signature.Signature {
	b := signature.New().String(KindExec).Options(e.opts)
	if path, err := e.resolve(); err == nil {
		b.File(path)
	} else {
		b.String("missing")
	}
	sig, err := b.Sum()
	if err != nil {
		// The binary vanished between lookup and stat.
		return signature.New().String(KindExec).Options(e.opts).String("missing").MustSum()
	}
	return sig
}

// Extract runs the binary on img.
func (e *Exec) Extract(ctx context.Context, img image.Image, withDescriptors bool) (feature.Frames, feature.Descriptors, error) {
	path, err := e.resolve()
	if err != nil {
		return nil, nil, err
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp("", "featbench-exec-*")
	if err != nil {
		return nil, nil, e.fail(fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.png")
	if err := imaging.Save(img, input); err != nil {
		return nil, nil, e.fail(fmt.Errorf("write input image: %w", err))
	}
	output := filepath.Join(dir, "frames.txt")

	args := make([]string, len(e.opts.Args))
	toFile := false
	for i, a := range e.opts.Args {
		if strings.Contains(a, PlaceholderOutput) {
			toFile = true
		}
		a = strings.ReplaceAll(a, PlaceholderInput, input)
		args[i] = strings.ReplaceAll(a, PlaceholderOutput, output)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, nil, e.fail(fmt.Errorf("run %s: %w", filepath.Base(path), err))
	}

	var r io.Reader = &stdout
	if toFile {
		f, err := os.Open(output)
		if err != nil {
			return nil, nil, e.fail(fmt.Errorf("read frames: %w", err))
		}
		defer f.Close()
		r = f
	}

	frames, descs, err := ParseFrames(r, withDescriptors && e.opts.Descriptors)
	if err != nil {
		return nil, nil, e.fail(err)
	}
	return frames, descs, nil
}

// ParseFrames reads VLFeat-style frame lines. When withDescriptors is true
// every line must carry the same number of extra components, which become
// its descriptor; otherwise extra columns are ignored and the returned
// descriptors are nil.
func ParseFrames(r io.Reader, withDescriptors bool) (feature.Frames, feature.Descriptors, error) {
	frames := feature.Frames{}
	var descs feature.Descriptors
	if withDescriptors {
		descs = feature.Descriptors{}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	dim := -1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, nil, fmt.Errorf("line %d: want at least 4 values, got %d", lineNo, len(fields))
		}

		var vals [4]float64
		for i := range vals {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			vals[i] = v
		}
		frames = append(frames, feature.Frame{X: vals[0], Y: vals[1], Scale: vals[2], Angle: vals[3]})

		if !withDescriptors {
			continue
		}
		rest := fields[4:]
		if dim < 0 {
			dim = len(rest)
		} else if len(rest) != dim {
			return nil, nil, fmt.Errorf("line %d: descriptor has %d values, want %d", lineNo, len(rest), dim)
		}
		d := make(feature.Descriptor, len(rest))
		for i, f := range rest {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			d[i] = float32(v)
		}
		descs = append(descs, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read frames: %w", err)
	}
	return frames, descs, nil
}
