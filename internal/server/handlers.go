package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/feature"
	"github.com/ironsheep/featbench/internal/imaging"
	"github.com/ironsheep/featbench/internal/signature"
	"github.com/ironsheep/featbench/internal/validation"
)

const defaultFrameLimit = 100

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "bench_compute").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// errInvalidArgs marks errors caused by the caller's arguments.
var errInvalidArgs = errors.New("invalid arguments")

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}

	start := time.Now()
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	log := s.log.With().Str("tool", params.Name).Dur("duration", time.Since(start)).Logger()
	if errors.Is(err, errInvalidArgs) {
		log.Debug().Err(err).Msg("invalid tool arguments")
		return errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}
	if err != nil {
		log.Warn().Err(err).Msg("tool failed")
		return errorResponse(req.ID, codeToolFailed, "Tool execution failed", err.Error())
	}
	log.Debug().Msg("tool executed")

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "bench_dataset":
		return s.handleDataset()
	case "bench_detectors":
		return s.handleDetectors()
	case "bench_compute":
		return s.handleCompute(ctx)
	case "bench_report":
		return s.handleReport()
	case "bench_frames":
		return s.handleFrames(args)
	case "bench_reload_suite":
		return s.handleReloadSuite()
	default:
		return nil, fmt.Errorf("%w: unknown tool: %s", errInvalidArgs, name)
	}
}

// decodeArgs unmarshals and validates tool arguments.
func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	if err := validation.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	return nil
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

type inputInfo struct {
	Index      int                `json:"index"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Homography feature.Homography `json:"homography"`
	Identity   bool               `json:"identity"`
	File       *imaging.ImageInfo `json:"file,omitempty"`
}

// pathDataset is implemented by datasets backed by image files.
type pathDataset interface {
	Path(i int) (string, error)
}

type datasetInfo struct {
	Name      string              `json:"name"`
	Signature signature.Signature `json:"signature"`
	Loaded    bool                `json:"loaded"`
	LoadedAt  *time.Time          `json:"loaded_at,omitempty"`
	Inputs    []inputInfo         `json:"inputs"`
}

func (s *Server) handleDataset() (interface{}, error) {
	snap := s.cache.Snapshot()
	info := datasetInfo{
		Name:      s.cache.Dataset().Name(),
		Signature: snap.Signature,
		Loaded:    !snap.Signature.IsEmpty(),
		Inputs:    make([]inputInfo, len(snap.Inputs)),
	}
	if info.Loaded {
		t := snap.LoadedAt
		info.LoadedAt = &t
	}
	files, _ := s.cache.Dataset().(pathDataset)
	for i, img := range snap.Inputs {
		b := img.Bounds()
		info.Inputs[i] = inputInfo{
			Index:      i,
			Width:      b.Dx(),
			Height:     b.Dy(),
			Homography: snap.Transforms[i],
			Identity:   snap.Transforms[i].IsIdentity(),
		}
		if files == nil {
			continue
		}
		if path, err := files.Path(i); err == nil {
			if fi, err := imaging.Describe(path, img); err == nil {
				info.Inputs[i].File = fi
			}
		}
	}
	return info, nil
}

func (s *Server) handleDetectors() (interface{}, error) {
	return map[string]interface{}{
		"detectors": s.cache.Entries(),
	}, nil
}

// computeResult carries the report of an interrupted pass with its cause.
type computeResult struct {
	*bench.Report
	Interrupted string `json:"interrupted,omitempty"`
}

func (s *Server) handleCompute(ctx context.Context) (interface{}, error) {
	report, err := s.cache.ComputeAll(ctx)
	if report == nil {
		return nil, err
	}
	res := computeResult{Report: report}
	if err != nil {
		res.Interrupted = err.Error()
	}
	return res, nil
}

func (s *Server) handleReport() (interface{}, error) {
	report := s.cache.LastReport()
	if report == nil {
		return nil, errors.New("no computation pass has run yet")
	}
	return report, nil
}

type framesArgs struct {
	Detector    string `json:"detector" validate:"required"`
	Input       *int   `json:"input" validate:"required,gte=0"`
	Limit       *int   `json:"limit" validate:"omitempty,gte=0"`
	Descriptors bool   `json:"descriptors"`
}

type framesResult struct {
	Detector    string              `json:"detector"`
	Input       int                 `json:"input"`
	Signature   signature.Signature `json:"signature"`
	Total       int                 `json:"total"`
	Truncated   bool                `json:"truncated"`
	Frames      feature.Frames      `json:"frames"`
	Descriptors feature.Descriptors `json:"descriptors,omitempty"`
}

func (s *Server) handleFrames(args json.RawMessage) (interface{}, error) {
	var a framesArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	limit := defaultFrameLimit
	if a.Limit != nil {
		limit = *a.Limit
	}
	input := *a.Input

	res, ok := s.cache.Results(a.Detector)
	if !ok {
		return nil, fmt.Errorf("%w: unknown detector %q", errInvalidArgs, a.Detector)
	}
	if input >= len(res.Frames) {
		return nil, fmt.Errorf("%w: input %d out of range [0,%d)", errInvalidArgs, input, len(res.Frames))
	}
	frames := res.Frames[input]
	if frames == nil {
		return nil, fmt.Errorf("detector %q has no results for input %d", a.Detector, input)
	}

	out := framesResult{
		Detector:  a.Detector,
		Input:     input,
		Signature: res.Signature,
		Total:     len(frames),
		Frames:    frames,
	}
	if limit > 0 && len(frames) > limit {
		out.Frames = frames[:limit]
		out.Truncated = true
	}
	if a.Descriptors {
		descs := res.Descriptors[input]
		if descs == nil {
			return nil, fmt.Errorf("detector %q has no descriptors; enable bench.compute_descriptors", a.Detector)
		}
		if len(descs) != len(frames) {
			return nil, fmt.Errorf("detector %q has %d descriptors for %d frames on input %d", a.Detector, len(descs), len(frames), input)
		}
		out.Descriptors = descs[:len(out.Frames)]
	}
	return out, nil
}

func (s *Server) handleReloadSuite() (interface{}, error) {
	if s.loader == nil {
		return nil, errors.New("no detector suite is configured")
	}
	dets, err := s.loader()
	if err != nil {
		return nil, err
	}
	if err := s.cache.Register(dets); err != nil {
		return nil, err
	}
	names := make([]string, len(dets))
	for i, d := range dets {
		names[i] = d.Name()
	}
	s.log.Info().Strs("detectors", names).Msg("suite reloaded")
	return map[string]interface{}{"registered": names}, nil
}
