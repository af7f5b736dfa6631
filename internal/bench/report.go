package bench

import (
	"time"

	"github.com/ironsheep/featbench/internal/signature"
)

// Failure names a detector that produced no fresh results in a pass.
type Failure struct {
	Detector string `json:"detector"`
	Message  string `json:"message"`
}

// Report describes one ComputeAll pass.
type Report struct {
	RunID            string              `json:"run_id"`
	Dataset          string              `json:"dataset"`
	DatasetSignature signature.Signature `json:"dataset_signature"`
	DatasetReloaded  bool                `json:"dataset_reloaded"`
	Inputs           int                 `json:"inputs"`

	// Recomputed, Restored and CacheHits list detector names by outcome,
	// in registration order.
	Recomputed []string `json:"recomputed"`
	Restored   []string `json:"restored"`
	CacheHits  []string `json:"cache_hits"`

	// Failures lists unhealthy and failed detectors in registration order.
	Failures []Failure `json:"failures"`

	// Error is set when the pass failed at the dataset level and no
	// detector ran.
	Error string `json:"error,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the pass completed and no detector failed.
func (r *Report) OK() bool {
	return r.Error == "" && len(r.Failures) == 0
}

// Failed returns the failure recorded for a detector, if any.
func (r *Report) Failed(name string) (Failure, bool) {
	for _, f := range r.Failures {
		if f.Detector == name {
			return f, true
		}
	}
	return Failure{}, false
}
