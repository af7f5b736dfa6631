package detection

import (
	"image"
	"math"

	"github.com/ironsheep/featbench/internal/imaging"
)

// Edge detection methods.
const (
	EdgeGradient = "gradient"
	EdgeCanny    = "canny"
)

// EdgeOptions selects and parameterises the edge stage of shape detectors.
type EdgeOptions struct {
	// Method is EdgeGradient or EdgeCanny.
	Method string `yaml:"method" json:"method" validate:"oneof=gradient canny"`

	// Threshold is the grey-level step (0-255) that marks a gradient edge.
	Threshold int `yaml:"threshold" json:"threshold" validate:"gte=0,lte=255"`

	// Low and High are the Canny hysteresis thresholds (0-255).
	Low  int `yaml:"low" json:"low" validate:"gte=0,lte=255"`
	High int `yaml:"high" json:"high" validate:"gte=0,lte=255,gtefield=Low"`
}

// DefaultEdgeOptions returns the gradient method with threshold 30.
func DefaultEdgeOptions() EdgeOptions {
	return EdgeOptions{
		Method:    EdgeGradient,
		Threshold: 30,
		Low:       50,
		High:      150,
	}
}

// Point is a pixel position relative to the image bounds origin.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// detect returns the [y][x] edge mask of img.
func (o EdgeOptions) detect(img image.Image) [][]bool {
	if o.Method == EdgeCanny {
		return imaging.Canny(img, o.Low, o.High)
	}
	return gradientEdges(img, float64(o.Threshold))
}

// gradientEdges marks pixels whose grey value differs from the right or
// lower neighbour by more than threshold. Border pixels are never edges.
func gradientEdges(img image.Image, threshold float64) [][]bool {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	edges := make([][]bool, height)
	for y := 0; y < height; y++ {
		edges[y] = make([]bool, width)
		if y == 0 || y == height-1 {
			continue
		}
		for x := 1; x < width-1; x++ {
			c := grayValue(img, x+bounds.Min.X, y+bounds.Min.Y)
			right := grayValue(img, x+1+bounds.Min.X, y+bounds.Min.Y)
			below := grayValue(img, x+bounds.Min.X, y+1+bounds.Min.Y)

			if math.Abs(c-right) > threshold || math.Abs(c-below) > threshold {
				edges[y][x] = true
			}
		}
	}
	return edges
}

// grayValue returns the ITU-R BT.601 luminance of a pixel on a 0-255 scale.
func grayValue(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return float64(r>>8)*0.299 + float64(g>>8)*0.587 + float64(b>>8)*0.114
}

// findContours groups 8-connected edge pixels. Components smaller than
// minSize pixels are dropped as noise.
func findContours(edges [][]bool, minSize int) [][]Point {
	height := len(edges)
	if height == 0 {
		return nil
	}
	width := len(edges[0])

	visited := make([][]bool, height)
	for y := range visited {
		visited[y] = make([]bool, width)
	}

	var contours [][]Point
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !edges[y][x] || visited[y][x] {
				continue
			}
			contour := floodFill(edges, visited, x, y)
			if len(contour) >= minSize {
				contours = append(contours, contour)
			}
		}
	}
	return contours
}

// floodFill collects the component containing (startX, startY) with an
// explicit stack.
func floodFill(edges, visited [][]bool, startX, startY int) []Point {
	height, width := len(edges), len(edges[0])
	var contour []Point
	stack := []Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		if visited[p.Y][p.X] || !edges[p.Y][p.X] {
			continue
		}
		visited[p.Y][p.X] = true
		contour = append(contour, p)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 {
					stack = append(stack, Point{X: p.X + dx, Y: p.Y + dy})
				}
			}
		}
	}
	return contour
}
