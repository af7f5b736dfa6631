// Package imaging provides the low-level image operations shared by datasets,
// detectors and descriptor routines.
//
// # Decoding
//
// Open decodes PNG, JPEG, GIF, BMP and TIFF files through
// github.com/disintegration/imaging, applying EXIF orientation. Describe
// reports dimensions, format and colour depth for an already decoded image.
//
// # Edges
//
// Canny returns a binary [y][x] edge mask. Edge-based detectors may select it
// instead of their plain gradient threshold when noise suppression matters.
//
// # Patches
//
// Patch crops and resamples the square neighbourhood of a frame. It is the
// input of the fallback descriptor routine.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with the origin at the top-left corner,
// X increasing rightward and Y increasing downward. Masks and luminance planes
// are indexed relative to img.Bounds().Min.
//
// # Thread Safety
//
// Every function is stateless and safe for concurrent use on the same
// image, provided the caller does not mutate the image meanwhile.
package imaging
