// Package resample implements backward (inverse-map) perspective warping.
package resample

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"

	"github.com/MeKo-Tech/kpalign/internal/homography"
)

// Background is the colour of destination pixels that map outside the source.
var Background = color.RGBA{0, 0, 0, 255}

// Source is a decoded image prepared for repeated sampling.
type Source struct {
	img  *image.NRGBA
	w, h int
}

// NewSource converts img to NRGBA once so that every warp samples directly
// from the pixel buffer.
func NewSource(img image.Image) *Source {
	n, ok := img.(*image.NRGBA)
	if !ok || n.Rect.Min != (image.Point{}) {
		n = imaging.Clone(img)
	}
	return &Source{img: n, w: n.Rect.Dx(), h: n.Rect.Dy()}
}

// Bounds returns the source bounds.
func (s *Source) Bounds() image.Rectangle { return s.img.Rect }

// Image returns the NRGBA pixels.
func (s *Source) Image() *image.NRGBA { return s.img }

// Warp renders a w x h panel where destination pixel (x, y) takes the source
// value at inverse(x, y). Source pixel i is centred on coordinate i.
func Warp(src image.Image, inverse homography.Matrix, w, h int, interp Interpolation) *image.RGBA {
	return NewSource(src).Warp(inverse, w, h, interp)
}

// Warp is Warp on a prepared source.
func (s *Source) Warp(inverse homography.Matrix, w, h int, interp Interpolation) *image.RGBA {
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if !interp.Valid() {
		interp = DefaultInterpolation
	}
	filter := interp.filter()

	workers := min(runtime.GOMAXPROCS(0), h)
	rows := (h + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < h; start += rows {
		end := min(start+rows, h)
		wg.Go(func() {
			for y := start; y < end; y++ {
				s.warpRow(out, inverse, y, interp, filter)
			}
		})
	}
	wg.Wait()
	return out
}

func (s *Source) warpRow(out *image.RGBA, inverse homography.Matrix, y int, interp Interpolation, filter imaging.ResampleFilter) {
	w := out.Rect.Dx()
	off := y * out.Stride
	for x := range w {
		p, err := homography.Apply(inverse, r2.Point{X: float64(x), Y: float64(y)})
		var c color.RGBA
		switch {
		case err != nil:
			c = Background
		case interp == Nearest:
			c = s.nearest(p.X, p.Y)
		default:
			scale := 1.0
			if interp == Area {
				scale = s.footprint(inverse, float64(x), float64(y), p)
			}
			c = s.convolve(p.X, p.Y, filter, scale)
		}
		px := out.Pix[off+4*x : off+4*x+4 : off+4*x+4]
		px[0], px[1], px[2], px[3] = c.R, c.G, c.B, c.A
	}
}

// inside reports whether (x, y) falls on a source pixel.
func (s *Source) inside(x, y float64) bool {
	return x >= -0.5 && y >= -0.5 && x < float64(s.w)-0.5 && y < float64(s.h)-0.5
}

func (s *Source) nearest(x, y float64) color.RGBA {
	if !s.inside(x, y) {
		return Background
	}
	ix := clampInt(int(math.Round(x)), 0, s.w-1)
	iy := clampInt(int(math.Round(y)), 0, s.h-1)
	i := s.img.PixOffset(ix, iy)
	return toRGBA(float64(s.img.Pix[i]), float64(s.img.Pix[i+1]), float64(s.img.Pix[i+2]), float64(s.img.Pix[i+3]))
}

// footprint estimates how many source pixels one destination pixel covers.
func (s *Source) footprint(inverse homography.Matrix, x, y float64, p r2.Point) float64 {
	px, err1 := homography.Apply(inverse, r2.Point{X: x + 1, Y: y})
	py, err2 := homography.Apply(inverse, r2.Point{X: x, Y: y + 1})
	if err1 != nil || err2 != nil {
		return 1
	}
	return math.Max(1, math.Max(px.Sub(p).Norm(), py.Sub(p).Norm()))
}

// convolve evaluates the separable filter centred on (x, y). scale widens the
// kernel for minification; edge pixels are repeated.
func (s *Source) convolve(x, y float64, filter imaging.ResampleFilter, scale float64) color.RGBA {
	if !s.inside(x, y) {
		return Background
	}
	support := filter.Support * scale

	x0 := int(math.Ceil(x - support))
	x1 := int(math.Floor(x + support))
	y0 := int(math.Ceil(y - support))
	y1 := int(math.Floor(y + support))

	var r, g, b, a, wsum float64
	for j := y0; j <= y1; j++ {
		wy := filter.Kernel((float64(j) - y) / scale)
		if wy == 0 {
			continue
		}
		row := clampInt(j, 0, s.h-1)
		for i := x0; i <= x1; i++ {
			wx := filter.Kernel((float64(i) - x) / scale)
			if wx == 0 {
				continue
			}
			k := wx * wy
			o := s.img.PixOffset(clampInt(i, 0, s.w-1), row)
			pa := float64(s.img.Pix[o+3])
			// Weight colour by alpha so transparent pixels do not bleed.
			r += k * float64(s.img.Pix[o]) * pa
			g += k * float64(s.img.Pix[o+1]) * pa
			b += k * float64(s.img.Pix[o+2]) * pa
			a += k * pa
			wsum += k
		}
	}
	if wsum == 0 || a <= 0 {
		return Background
	}
	return toRGBA(r/a, g/a, b/a, a/wsum)
}

// toRGBA clamps non-premultiplied channels and premultiplies them.
func toRGBA(r, g, b, a float64) color.RGBA {
	a = clamp255(a)
	f := a / 255
	return color.RGBA{
		R: uint8(clamp255(r)*f + 0.5),
		G: uint8(clamp255(g)*f + 0.5),
		B: uint8(clamp255(b)*f + 0.5),
		A: uint8(a + 0.5),
	}
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
