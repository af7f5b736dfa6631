package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func noArguments() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "bench_dataset",
			Description: "Describe the loaded dataset: name, signature, load time and the size and homography of every input. Empty until the first computation pass.",
			InputSchema: noArguments(),
		},
		{
			Name:        "bench_detectors",
			Description: "List registered detectors in registration order with the signature, frame count and descriptor size of their cached results.",
			InputSchema: noArguments(),
		},
		{
			Name:        "bench_compute",
			Description: "Bring every detector up to date with the dataset. Only detectors whose signature changed, or all of them if the dataset changed, are recomputed. Returns the pass report.",
			InputSchema: noArguments(),
		},
		{
			Name:        "bench_report",
			Description: "Return the report of the most recent computation pass.",
			InputSchema: noArguments(),
		},
		{
			Name:        "bench_frames",
			Description: "Return the cached frames of one detector on one input, optionally with their descriptors.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"detector": map[string]interface{}{
						"type":        "string",
						"description": "Detector name as registered",
					},
					"input": map[string]interface{}{
						"type":        "integer",
						"description": "Input index (0-based, 0 is the reference view)",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of frames to return. Default 100, 0 for all",
						"default":     defaultFrameLimit,
					},
					"descriptors": map[string]interface{}{
						"type":        "boolean",
						"description": "Include descriptors aligned with the frames. Default false",
						"default":     false,
					},
				},
				"required": []string{"detector", "input"},
			},
		},
		{
			Name:        "bench_reload_suite",
			Description: "Re-read the detector suite file and register its detectors. Detectors with an existing name replace the previous ones and keep their cache until the next pass.",
			InputSchema: noArguments(),
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
