// Package contrast implements contrast-limited adaptive histogram
// equalization (CLAHE) for display enhancement.
package contrast

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/MeKo-Tech/kpalign/internal/mempool"
)

// DefaultTileGrid is the number of tiles per axis.
const DefaultTileGrid = 10

const bins = 256

// ClipFromSlider converts a 0-1000 slider position to a clip limit.
func ClipFromSlider(v int) float64 {
	return 10 * float64(v) / 1000
}

// Apply equalizes img with the given clip limit. Grayscale images are
// equalized directly; colour images have only their HSL lightness changed.
// A clip limit of zero or less returns an unmodified copy.
func Apply(img image.Image, clip float64, grid int) *image.NRGBA {
	out := imaging.Clone(img)
	if clip <= 0 {
		return out
	}
	if grid <= 0 {
		grid = DefaultTileGrid
	}

	w, h := out.Rect.Dx(), out.Rect.Dy()
	if w == 0 || h == 0 {
		return out
	}

	switch img.(type) {
	case *image.Gray, *image.Gray16:
		equalizeGray(out, clip, grid)
	default:
		equalizeLightness(out, clip, grid)
	}
	return out
}

func equalizeGray(img *image.NRGBA, clip float64, grid int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := mempool.GetUint8(w * h)
	defer mempool.PutUint8(plane)
	for y := range h {
		for x := range w {
			plane[y*w+x] = img.Pix[img.PixOffset(x, y)]
		}
	}
	eq := equalize(plane, w, h, clip, grid)
	defer mempool.PutUint8(eq)
	for y := range h {
		for x := range w {
			o := img.PixOffset(x, y)
			v := eq[y*w+x]
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = v, v, v
		}
	}
}

func equalizeLightness(img *image.NRGBA, clip float64, grid int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	hue := mempool.GetFloat64(w * h)
	sat := mempool.GetFloat64(w * h)
	plane := mempool.GetUint8(w * h)
	defer func() {
		mempool.PutFloat64(hue)
		mempool.PutFloat64(sat)
		mempool.PutUint8(plane)
	}()
	for y := range h {
		for x := range w {
			o := img.PixOffset(x, y)
			c := colorful.Color{
				R: float64(img.Pix[o]) / 255,
				G: float64(img.Pix[o+1]) / 255,
				B: float64(img.Pix[o+2]) / 255,
			}
			hh, ss, ll := c.Hsl()
			hue[y*w+x], sat[y*w+x] = hh, ss
			plane[y*w+x] = uint8(math.Round(ll * 255))
		}
	}

	eq := equalize(plane, w, h, clip, grid)
	defer mempool.PutUint8(eq)

	for y := range h {
		for x := range w {
			i := y*w + x
			if eq[i] == plane[i] {
				continue
			}
			o := img.PixOffset(x, y)
			c := colorful.Hsl(hue[i], sat[i], float64(eq[i])/255).Clamped()
			img.Pix[o], img.Pix[o+1], img.Pix[o+2] = c.RGB255()
		}
	}
}

// equalize runs CLAHE over an 8-bit plane and returns the mapped plane,
// which comes from mempool.
func equalize(plane []uint8, w, h int, clip float64, grid int) []uint8 {
	gx, gy := min(grid, w), min(grid, h)
	tileW := float64(w) / float64(gx)
	tileH := float64(h) / float64(gy)

	luts := make([][bins]uint8, gx*gy)
	for ty := range gy {
		y0, y1 := int(float64(ty)*tileH), int(float64(ty+1)*tileH)
		for tx := range gx {
			x0, x1 := int(float64(tx)*tileW), int(float64(tx+1)*tileW)
			luts[ty*gx+tx] = tileLUT(plane, w, x0, x1, y0, y1, clip)
		}
	}

	out := mempool.GetUint8(len(plane))
	for y := range h {
		fy := (float64(y)+0.5)/tileH - 0.5
		ty1 := int(math.Floor(fy))
		ya := fy - float64(ty1)
		ty2 := min(ty1+1, gy-1)
		ty1 = max(ty1, 0)

		for x := range w {
			fx := (float64(x)+0.5)/tileW - 0.5
			tx1 := int(math.Floor(fx))
			xa := fx - float64(tx1)
			tx2 := min(tx1+1, gx-1)
			tx1 = max(tx1, 0)

			v := plane[y*w+x]
			top := (1-xa)*float64(luts[ty1*gx+tx1][v]) + xa*float64(luts[ty1*gx+tx2][v])
			bot := (1-xa)*float64(luts[ty2*gx+tx1][v]) + xa*float64(luts[ty2*gx+tx2][v])
			out[y*w+x] = uint8(math.Round((1-ya)*top + ya*bot))
		}
	}
	return out
}

// tileLUT builds the clipped cumulative mapping of one tile.
func tileLUT(plane []uint8, stride, x0, x1, y0, y1 int, clip float64) [bins]uint8 {
	var hist [bins]int
	for y := y0; y < y1; y++ {
		for _, v := range plane[y*stride+x0 : y*stride+x1] {
			hist[v]++
		}
	}
	area := (x1 - x0) * (y1 - y0)

	limit := max(int(clip*float64(area)/bins), 1)
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	batch := excess / bins
	residual := excess - batch*bins
	for i := range hist {
		hist[i] += batch
	}
	if residual > 0 {
		step := max(bins/residual, 1)
		for i := 0; i < bins && residual > 0; i += step {
			hist[i]++
			residual--
		}
	}

	var lut [bins]uint8
	scale := 255 / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = uint8(min(math.Round(float64(sum)*scale), 255))
	}
	return lut
}
