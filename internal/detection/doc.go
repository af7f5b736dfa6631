// Package detection provides the built-in feature detectors of the benchmark.
//
// Every detector turns one image into frames: a centre, a scale and an
// orientation per detected feature. Detectors are configured with an options
// struct whose JSON serialization is folded into the detector's signature, so
// any option change invalidates that detector's cached results and nothing
// else.
//
// # Variants
//
//   - Circles: Hough circle transform. Scale is the radius.
//   - Rectangles: contour analysis of axis-aligned boxes. Scale is half the
//     geometric mean of the sides.
//   - Lines: Hough line segments. The frame sits at the segment midpoint,
//     Scale is half the length and Angle the segment direction.
//   - Regions: edge-density text region heuristic.
//   - DoG: difference-of-Gaussians blob detector with oriented frames and
//     native 128-dimensional gradient histogram descriptors.
//   - Exec: any external binary that prints VLFeat-style frames.
//
// Only DoG and Exec (when configured for it) describe their own frames; the
// others rely on the cache engine's fallback descriptor routine.
//
// # Edge Maps
//
// The shape detectors share an edge stage selected by EdgeOptions: the
// original single-threshold gradient test, or the Canny pipeline from the
// imaging package.
//
// # Coordinate System
//
// Frame coordinates are in the image's own coordinate space: origin at the
// top-left, X rightward, Y downward, angles in radians measured from +X
// towards +Y.
package detection
