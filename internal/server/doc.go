// Package server exposes a feature cache over the MCP (Model Context
// Protocol) stdio transport.
//
// The server speaks JSON-RPC 2.0, one message per line:
//   - Input: requests on stdin
//   - Output: responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
//   - bench_dataset: Dataset name, signature and per-input geometry
//   - bench_detectors: Registered detectors and the state of their entries
//   - bench_compute: Run a computation pass and return its report
//   - bench_report: The report of the last pass
//   - bench_frames: Frames (and descriptors) of one detector on one input
//   - bench_reload_suite: Re-read the detector suite and register it
//
// # Error Handling
//
// Malformed messages get code -32700, unknown methods -32601 and bad tool
// parameters -32602. A tool that runs but fails returns -32000 with the
// error text in data.
//
// # Usage
//
//	srv := server.New(cache, server.WithSuiteLoader(load))
//	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
package server
