package dataset

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/imaging"
	"github.com/ironsheep/featbench/internal/signature"
)

// Dir is a dataset backed by a directory of images.
//
// Inputs are the image files directly under Root, ordered naturally by name
// (img2 before img10). The first input is the reference view. For every
// other input i (1-based index n = i+1) an optional homography file named
// H1to<n>p maps reference coordinates to that view; a missing file means
// identity.
//
// The signature covers the stamp (relative path, size, modification time) of
// every image and homography file, so adding, removing, replacing or touching
// any of them changes it. Image contents are never read to compute it.
type Dir struct {
	root string
	name string

	mu    sync.RWMutex
	files []string
}

// NewDir returns a dataset over root. The directory must exist.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve dataset root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open dataset root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset root %s is not a directory", abs)
	}
	return &Dir{root: abs, name: filepath.Base(abs)}, nil
}

// Name returns the directory base name.
func (d *Dir) Name() string {
	return d.name
}

// Root returns the absolute dataset directory.
func (d *Dir) Root() string {
	return d.root
}

// NumInputs rescans the directory and returns the number of images.
func (d *Dir) NumInputs() (int, error) {
	files, err := d.scan()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.files = files
	d.mu.Unlock()
	return len(files), nil
}

// Path returns the file backing input i as of the last NumInputs call.
func (d *Dir) Path(i int) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i < 0 || i >= len(d.files) {
		return "", fmt.Errorf("input %d out of range [0,%d)", i, len(d.files))
	}
	return d.files[i], nil
}

// Input decodes input i.
func (d *Dir) Input(ctx context.Context, i int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := d.Path(i)
	if err != nil {
		return nil, err
	}
	return imaging.Open(path)
}

// Transform returns the homography from the reference view to input i.
func (d *Dir) Transform(i int) (feature.Homography, error) {
	if i == 0 {
		return feature.Identity(), nil
	}
	path := d.homographyPath(i)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return feature.Identity(), nil
	}
	if err != nil {
		return feature.Homography{}, fmt.Errorf("read homography: %w", err)
	}
	return ParseHomography(string(data))
}

// Signature fingerprints every image and homography file in the directory.
func (d *Dir) Signature() (signature.Signature, error) {
	files, err := d.scan()
	if err != nil {
		return signature.Empty, err
	}

	stamped := append([]string(nil), files...)
	for i := 1; i < len(files); i++ {
		p := d.homographyPath(i)
		if _, err := os.Stat(p); err == nil {
			stamped = append(stamped, p)
		}
	}

	return signature.New().
		String("dir").
		Int(int64(len(files))).
		Files(d.root, stamped).
		Sum()
}

func (d *Dir) homographyPath(i int) string {
	return filepath.Join(d.root, fmt.Sprintf("H1to%dp", i+1))
}

func (d *Dir) scan() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list dataset: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imaging.IsImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(d.root, e.Name()))
	}
	sortNatural(files)
	return files, nil
}

// ParseHomography parses nine whitespace-separated numbers in row-major order.
func ParseHomography(text string) (feature.Homography, error) {
	fields := strings.Fields(text)
	if len(fields) != 9 {
		return feature.Homography{}, fmt.Errorf("homography has %d values, want 9", len(fields))
	}
	var h feature.Homography
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return feature.Homography{}, fmt.Errorf("homography value %d: %w", i, err)
		}
		h[i] = v
	}
	return h, nil
}
