package server

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/goccy/go-json"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/dataset"
	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/signature"
)

// gridDetector reports one frame per cell of a fixed grid.
type gridDetector struct {
	name  string
	cells int
}

func (d *gridDetector) Name() string { return d.name }

func (d *gridDetector) Signature() signature.Signature {
	return signature.New().String("grid").Int(int64(d.cells)).MustSum()
}

func (d *gridDetector) Healthy() bool             { return true }
func (d *gridDetector) LastError() string         { return "" }
func (d *gridDetector) SupportsDescriptors() bool { return true }

func (d *gridDetector) Extract(ctx context.Context, img image.Image, withDescriptors bool) (feature.Frames, feature.Descriptors, error) {
	b := img.Bounds()
	var frames feature.Frames
	var descs feature.Descriptors
	for i := 0; i < d.cells; i++ {
		frames = append(frames, feature.Frame{
			X:     float64(b.Dx()) * (float64(i) + 0.5) / float64(d.cells),
			Y:     float64(b.Dy()) / 2,
			Scale: 2,
		})
		descs = append(descs, feature.Descriptor{float32(i), 1})
	}
	if !withDescriptors {
		descs = nil
	}
	return frames, descs, nil
}

func createTestImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// newTestServer returns a server over a two-image dataset with one grid
// detector of the given cell count.
func newTestServer(t *testing.T, cells int, opts ...Option) (*Server, *bench.Cache) {
	t.Helper()

	h := feature.Identity()
	h[2] = 5
	ds := dataset.NewMemory("test", []image.Image{
		createTestImage(40, 30, color.White),
		createTestImage(40, 30, color.Black),
	}, []feature.Homography{feature.Identity(), h})

	cache, err := bench.New(ds, bench.DefaultOptions())
	if err != nil {
		t.Fatalf("bench.New() error = %v", err)
	}
	if err := cache.Register([]bench.Detector{&gridDetector{name: "grid", cells: cells}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return New(cache, opts...), cache
}

// callTool runs tools/call and returns the response.
func callTool(t *testing.T, s *Server, name string, args interface{}) *MCPResponse {
	t.Helper()

	params := map[string]interface{}{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}

	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	return resp
}

// toolText decodes the text content of a successful tool response into v.
func toolText(t *testing.T, resp *MCPResponse, v interface{}) {
	t.Helper()

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result should be a map, got %T", resp.Result)
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("content should hold one entry, got %v", result["content"])
	}
	text, _ := content[0]["text"].(string)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("decode tool text: %v\n%s", err, text)
	}
}
