package bench

import (
	"context"

	"github.com/ironsheep/featbench/internal/signature"
)

// StoreKey identifies a set of results in a ResultStore. Results are only
// reusable when the detector configuration, the dataset and the descriptor
// mode all match.
type StoreKey struct {
	Detector          string
	DetectorSignature signature.Signature
	DatasetSignature  signature.Signature
	Descriptors       bool

	// Fallback names the fallback descriptor routine. It is empty unless
	// descriptors are requested from a detector without native ones.
	Fallback string
}

// ResultStore persists computed results.
type ResultStore interface {
	// Load returns the results saved under key. A miss returns false and a
	// nil error.
	Load(ctx context.Context, key StoreKey) (*Results, bool, error)

	// Save records results under key.
	Save(ctx context.Context, key StoreKey, r *Results) error
}
