// Package dataset provides image datasets for the benchmark.
//
// A dataset enumerates its inputs, decodes each one on demand, supplies the
// geometric transform relating each input to the reference view, and exposes
// a cheap signature summarising all of the above.
//
// Two implementations are provided:
//
//   - Dir: a directory of images with optional H1to<N>p homography files,
//     in the layout of the Oxford affine covariant region datasets.
//   - Memory: images held in memory, for embedding and tests.
package dataset
