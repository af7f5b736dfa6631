// Package bench is the result cache at the heart of the benchmark.
//
// A Cache owns one entry per registered detector: the detector's signature at
// its last successful computation, and the frames and descriptors it produced
// for every input of the dataset. It also owns a snapshot of the dataset
// inputs as of the last load.
//
// ComputeAll brings every entry up to date in one pass:
//
//  1. The dataset signature is compared with the snapshot's. On any
//     difference all inputs are reloaded and every entry becomes stale.
//  2. Each detector's signature is compared with its entry's. A detector is
//     recomputed over all inputs when it is stale or its signature changed;
//     otherwise its entry is left untouched.
//  3. Detectors that are unhealthy or fail produce a Failure in the returned
//     Report and never affect other detectors.
//
// Detectors run in parallel, and so do the inputs of each detector. Results
// are written to pre-sized slots indexed by input, so ordering never depends
// on scheduling. Each entry's signature and results live in one immutable
// value swapped atomically: a reader observes either the previous or the new
// state of an entry, never a mix.
//
// # Descriptors
//
// When Options.ComputeDescriptors is set, detectors that can describe their
// own frames are asked to do so in the same call. Frames of the others are
// passed to Options.Fallback.
//
// # Persistence
//
// With a ResultStore configured, a stale detector is first looked up by
// (name, detector signature, dataset signature) and restored without any
// per-input work when found. Fresh results are saved after computation.
package bench
