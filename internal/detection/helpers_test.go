package detection

import (
	"image"
	"image/color"
	"math"
)

// createTestImage creates a solid color test image
func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// createRectangleImage draws a one pixel rectangle outline on white
func createRectangleImage(width, height int, x1, y1, x2, y2 int) *image.RGBA {
	img := createTestImage(width, height, color.White)
	drawRectangle(img, x1, y1, x2, y2)
	return img
}

func drawRectangle(img *image.RGBA, x1, y1, x2, y2 int) {
	for x := x1; x <= x2; x++ {
		img.Set(x, y1, color.Black)
		img.Set(x, y2, color.Black)
	}
	for y := y1; y <= y2; y++ {
		img.Set(x1, y, color.Black)
		img.Set(x2, y, color.Black)
	}
}

// createCircleImage draws a circle outline with the midpoint algorithm
func createCircleImage(width, height, cx, cy, radius int) *image.RGBA {
	img := createTestImage(width, height, color.White)

	x, y, e := radius, 0, 0
	for x >= y {
		for _, p := range [][2]int{
			{cx + x, cy + y}, {cx + y, cy + x}, {cx - y, cy + x}, {cx - x, cy + y},
			{cx - x, cy - y}, {cx - y, cy - x}, {cx + y, cy - x}, {cx + x, cy - y},
		} {
			img.Set(p[0], p[1], color.Black)
		}
		if e <= 0 {
			y++
			e += 2*y + 1
		}
		if e > 0 {
			x--
			e -= 2*x + 1
		}
	}
	return img
}

// createHorizontalLineImage draws a full-width horizontal line at row y
func createHorizontalLineImage(width, height, y int) *image.RGBA {
	img := createTestImage(width, height, color.White)
	for x := 0; x < width; x++ {
		img.Set(x, y, color.Black)
	}
	return img
}

// createBlobImage draws a dark Gaussian blob on white
func createBlobImage(width, height, cx, cy int, sigma float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d2 := float64((x-cx)*(x-cx) + (y-cy)*(y-cy))
			v := 1 - math.Exp(-d2/(2*sigma*sigma))
			img.SetGray(x, y, color.Gray{Y: uint8(255 * v)})
		}
	}
	return img
}

func newEdgeMask(w, h int) [][]bool {
	m := make([][]bool, h)
	for y := range m {
		m[y] = make([]bool, w)
	}
	return m
}
