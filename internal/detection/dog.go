package detection

import (
	"context"
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"github.com/ironsheep/featbench/internal/feature"
)

// DoGOptions configures the difference-of-Gaussians detector.
type DoGOptions struct {
	// Octaves is the number of halvings of the image resolution.
	Octaves int `yaml:"octaves" json:"octaves" validate:"gte=1,lte=8"`

	// Levels is the number of scales sampled per octave.
	Levels int `yaml:"levels" json:"levels" validate:"gte=1,lte=8"`

	// Sigma is the blur of the first level of every octave.
	Sigma float64 `yaml:"sigma" json:"sigma" validate:"gt=0"`

	// Threshold is the minimum absolute DoG response, on intensities in [0,1].
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gte=0"`

	// EdgeRatio rejects extrema whose principal curvature ratio exceeds it.
	EdgeRatio float64 `yaml:"edge_ratio" json:"edge_ratio" validate:"gt=1"`

	// MinSize stops adding octaves once either side would fall below it.
	MinSize int `yaml:"min_size" json:"min_size" validate:"gte=8"`
}

// DefaultDoGOptions returns three octaves of three levels from sigma 1.6.
func DefaultDoGOptions() DoGOptions {
	return DoGOptions{
		Octaves:   3,
		Levels:    3,
		Sigma:     1.6,
		Threshold: 0.02,
		EdgeRatio: 10,
		MinSize:   16,
	}
}

// DescriptorDim is the length of DoG descriptors: a 4x4 grid of 8-bin
// gradient orientation histograms.
const DescriptorDim = 4 * 4 * 8

// DoG detects blobs as scale-space extrema of the difference of Gaussians.
//
// Each frame is oriented along the dominant gradient direction around it,
// and its descriptor is computed jointly in that rotated frame.
type DoG struct {
	inProcess
	opts DoGOptions
}

// NewDoG returns a difference-of-Gaussians detector.
func NewDoG(name string, opts DoGOptions) *DoG {
	return &DoG{inProcess: newInProcess(KindDoG, name, opts), opts: opts}
}

// SupportsDescriptors reports true.
func (d *DoG) SupportsDescriptors() bool { return true }

// plane is a [y][x] intensity image in [0,1].
type plane [][]float64

func (p plane) width() int  { return len(p[0]) }
func (p plane) height() int { return len(p) }

func planeOf(img image.Image) plane {
	b := img.Bounds()
	p := make(plane, b.Dy())
	for y := range p {
		p[y] = make([]float64, b.Dx())
		for x := range p[y] {
			r, _, _, _ := img.At(x+b.Min.X, y+b.Min.Y).RGBA()
			p[y][x] = float64(r) / 0xffff
		}
	}
	return p
}

// Extract returns the detected frames, and descriptors when asked.
func (d *DoG) Extract(ctx context.Context, img image.Image, withDescriptors bool) (feature.Frames, feature.Descriptors, error) {
	bounds := img.Bounds()
	var base image.Image = effect.Grayscale(img)

	frames := feature.Frames{}
	var descs feature.Descriptors
	if withDescriptors {
		descs = feature.Descriptors{}
	}

	for o := 0; o < d.opts.Octaves; o++ {
		b := base.Bounds()
		if b.Dx() < d.opts.MinSize || b.Dy() < d.opts.MinSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		// Levels+3 blurred images give Levels+2 DoG layers, so every
		// searched layer has a neighbour above and below.
		n := d.opts.Levels + 3
		sigmas := make([]float64, n)
		blurred := make([]plane, n)
		for s := 0; s < n; s++ {
			sigmas[s] = d.opts.Sigma * math.Pow(2, float64(s)/float64(d.opts.Levels))
			blurred[s] = planeOf(gaussian(base, sigmas[s]))
		}
		dogs := make([]plane, n-1)
		for s := range dogs {
			dogs[s] = subtract(blurred[s+1], blurred[s])
		}

		step := math.Pow(2, float64(o))
		for s := 1; s < len(dogs)-1; s++ {
			for _, pt := range d.extrema(dogs, s) {
				g := blurred[s]
				sigma := sigmas[s]
				angle := dominantOrientation(g, pt.X, pt.Y, sigma)
				frames = append(frames, feature.Frame{
					X:     float64(pt.X)*step + float64(bounds.Min.X),
					Y:     float64(pt.Y)*step + float64(bounds.Min.Y),
					Scale: sigma * step,
					Angle: angle,
				})
				if withDescriptors {
					descs = append(descs, gradientDescriptor(g, pt.X, pt.Y, sigma, angle))
				}
			}
		}

		base = imaging.Resize(base, b.Dx()/2, b.Dy()/2, imaging.Box)
	}
	return frames, descs, nil
}

// gaussian blurs img with a standard deviation close to sigma. bild samples
// exp(-x²/4r) at integer offsets from -r, so r = sigma²/2 is rounded to an
// integer to keep the kernel centred.
func gaussian(img image.Image, sigma float64) *image.RGBA {
	return blur.Gaussian(img, math.Max(1, math.Round(sigma*sigma/2)))
}

func subtract(a, b plane) plane {
	out := make(plane, len(a))
	for y := range a {
		out[y] = make([]float64, len(a[y]))
		for x := range a[y] {
			out[y][x] = a[y][x] - b[y][x]
		}
	}
	return out
}

// extrema returns the pixels of layer s that are strict maxima or minima of
// their 3x3x3 neighbourhood, pass the contrast threshold and are not on an
// edge.
func (d *DoG) extrema(dogs []plane, s int) []Point {
	cur := dogs[s]
	var pts []Point
	for y := 1; y < cur.height()-1; y++ {
		for x := 1; x < cur.width()-1; x++ {
			v := cur[y][x]
			if math.Abs(v) < d.opts.Threshold {
				continue
			}
			if !isExtremum(dogs, s, x, y, v) {
				continue
			}
			if isEdgeResponse(cur, x, y, d.opts.EdgeRatio) {
				continue
			}
			pts = append(pts, Point{X: x, Y: y})
		}
	}
	return pts
}

func isExtremum(dogs []plane, s, x, y int, v float64) bool {
	isMax, isMin := true, true
	for ds := -1; ds <= 1; ds++ {
		layer := dogs[s+ds]
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if ds == 0 && dx == 0 && dy == 0 {
					continue
				}
				n := layer[y+dy][x+dx]
				if n >= v {
					isMax = false
				}
				if n <= v {
					isMin = false
				}
				if !isMax && !isMin {
					return false
				}
			}
		}
	}
	return true
}

// isEdgeResponse applies the Hessian trace/determinant test.
func isEdgeResponse(p plane, x, y int, ratio float64) bool {
	dxx := p[y][x+1] + p[y][x-1] - 2*p[y][x]
	dyy := p[y+1][x] + p[y-1][x] - 2*p[y][x]
	dxy := (p[y+1][x+1] - p[y+1][x-1] - p[y-1][x+1] + p[y-1][x-1]) / 4
	tr := dxx + dyy
	det := dxx*dyy - dxy*dxy
	if det <= 0 {
		return true
	}
	return tr*tr/det >= (ratio+1)*(ratio+1)/ratio
}

func gradient(p plane, x, y int) (float64, float64) {
	w, h := p.width(), p.height()
	gx := p[y][min(x+1, w-1)] - p[y][max(x-1, 0)]
	gy := p[min(y+1, h-1)][x] - p[max(y-1, 0)][x]
	return gx, gy
}

// dominantOrientation returns the peak of a 36-bin, Gaussian-weighted
// histogram of gradient directions within 3*1.5*sigma of (cx, cy).
func dominantOrientation(p plane, cx, cy int, sigma float64) float64 {
	const bins = 36
	var hist [bins]float64
	weightSigma := 1.5 * sigma
	radius := int(math.Round(3 * weightSigma))

	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			x, y := cx+dx, cy+dy
			if x < 0 || y < 0 || x >= p.width() || y >= p.height() {
				continue
			}
			gx, gy := gradient(p, x, y)
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			w := math.Exp(-float64(dx*dx+dy*dy) / (2 * weightSigma * weightSigma))
			bin := int(math.Floor((math.Atan2(gy, gx) + math.Pi) / (2 * math.Pi) * bins))
			hist[bin%bins] += w * mag
		}
	}

	best := 0
	for i := range hist {
		if hist[i] > hist[best] {
			best = i
		}
	}
	return (float64(best)+0.5)*2*math.Pi/bins - math.Pi
}

// gradientDescriptor builds a 4x4x8 histogram of gradient orientations in a
// window of side 4 * 3*sigma rotated by angle, then normalises it, clips
// components at 0.2 and normalises again.
func gradientDescriptor(p plane, cx, cy int, sigma, angle float64) feature.Descriptor {
	const (
		grid  = 4
		obins = 8
	)
	d := make(feature.Descriptor, DescriptorDim)
	cell := 3 * sigma
	half := cell * grid / 2
	radius := int(math.Ceil(half * math.Sqrt2))
	cosA, sinA := math.Cos(angle), math.Sin(angle)

	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			// Rotate the offset into the frame's coordinate system.
			u := (cosA*float64(dx) + sinA*float64(dy) + half) / cell
			v := (-sinA*float64(dx) + cosA*float64(dy) + half) / cell
			if u < 0 || v < 0 || u >= grid || v >= grid {
				continue
			}
			x, y := cx+dx, cy+dy
			if x < 0 || y < 0 || x >= p.width() || y >= p.height() {
				continue
			}
			gx, gy := gradient(p, x, y)
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			theta := math.Mod(math.Atan2(gy, gx)-angle+4*math.Pi, 2*math.Pi)
			ob := int(theta/(2*math.Pi)*obins) % obins
			d[(int(v)*grid+int(u))*obins+ob] += float32(mag)
		}
	}

	normalize(d)
	for i := range d {
		if d[i] > 0.2 {
			d[i] = 0.2
		}
	}
	normalize(d)
	return d
}

func normalize(d feature.Descriptor) {
	var sum float64
	for _, v := range d {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range d {
		d[i] *= inv
	}
}
