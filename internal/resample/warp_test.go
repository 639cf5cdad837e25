package resample

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/kpalign/internal/homography"
)

// gradient returns a w x h image whose red channel encodes x and green y.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 77, A: 255})
		}
	}
	return img
}

// stripes alternates black and white columns.
func stripes(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := uint8(0)
			if x%2 == 1 {
				v = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestWarpIdentityReproducesSource(t *testing.T) {
	src := gradient(12, 9)
	for _, interp := range Interpolations() {
		t.Run(interp.String(), func(t *testing.T) {
			out := Warp(src, homography.Identity(), 12, 9, interp)
			require.Equal(t, image.Rect(0, 0, 12, 9), out.Bounds())
			for y := range 9 {
				for x := range 12 {
					want := src.NRGBAAt(x, y)
					got := out.RGBAAt(x, y)
					assert.Equal(t, want.R, got.R, "R at %d,%d", x, y)
					assert.Equal(t, want.G, got.G, "G at %d,%d", x, y)
					assert.Equal(t, want.B, got.B, "B at %d,%d", x, y)
					assert.Equal(t, uint8(255), got.A)
				}
			}
		})
	}
}

func TestWarpTranslationAndBackground(t *testing.T) {
	src := gradient(10, 10)
	// Destination pixel x samples source x-3.
	inv := homography.Translation(-3, 0)
	out := Warp(src, inv, 10, 10, Linear)

	assert.Equal(t, Background, out.RGBAAt(0, 5))
	assert.Equal(t, Background, out.RGBAAt(2, 5))
	assert.Equal(t, uint8(0), out.RGBAAt(3, 5).R)
	assert.Equal(t, uint8(60), out.RGBAAt(9, 5).R)
}

func TestWarpNearestUpscale(t *testing.T) {
	src := gradient(4, 4)
	out := Warp(src, homography.ScaleTranslate(0.5, 0, 0), 8, 8, Nearest)

	assert.Equal(t, uint8(10), out.RGBAAt(2, 0).R)
	assert.Equal(t, uint8(30), out.RGBAAt(6, 6).R)
	assert.Equal(t, uint8(30), out.RGBAAt(6, 6).G)
}

func TestWarpLinearMidpoint(t *testing.T) {
	src := gradient(4, 4)
	out := Warp(src, homography.ScaleTranslate(0.5, 0, 0), 7, 7, Linear)
	// Destination 1 samples source 0.5: halfway between 0 and 10.
	assert.Equal(t, uint8(5), out.RGBAAt(1, 0).R)
}

func TestWarpAreaAveragesWhenMinifying(t *testing.T) {
	src := stripes(16, 16)
	inv := homography.ScaleTranslate(2, 0, 0)

	nearest := Warp(src, inv, 8, 8, Nearest)
	area := Warp(src, inv, 8, 8, Area)

	// Nearest hits only even (black) columns.
	assert.Equal(t, uint8(0), nearest.RGBAAt(3, 3).R)

	got := area.RGBAAt(3, 3).R
	assert.Greater(t, got, uint8(50))
	assert.Less(t, got, uint8(220))
}

func TestWarpDegenerateIsBlack(t *testing.T) {
	src := gradient(4, 4)
	inv := homography.Matrix{1, 0, 0, 0, 1, 0, 0, 0, 0}
	out := Warp(src, inv, 3, 3, Cubic)
	for y := range 3 {
		for x := range 3 {
			assert.Equal(t, Background, out.RGBAAt(x, y))
		}
	}
}

func TestWarpEmptyPanel(t *testing.T) {
	out := Warp(gradient(4, 4), homography.Identity(), 0, 10, Cubic)
	assert.True(t, out.Bounds().Empty())
}

func TestWarpOffsetSourceBounds(t *testing.T) {
	// A sub-image keeps its parent's coordinates; warping still treats its
	// top-left pixel as raw (0, 0).
	parent := gradient(10, 10)
	sub := parent.SubImage(image.Rect(2, 3, 6, 7))
	out := Warp(sub, homography.Identity(), 4, 4, Nearest)
	assert.Equal(t, uint8(20), out.RGBAAt(0, 0).R)
	assert.Equal(t, uint8(30), out.RGBAAt(0, 0).G)
}

func TestParseInterpolation(t *testing.T) {
	tests := []struct {
		in      string
		want    Interpolation
		wantErr bool
	}{
		{"nearest", Nearest, false},
		{"Linear", Linear, false},
		{"area", Area, false},
		{"cubic", Cubic, false},
		{"LANCZOS", Lanczos, false},
		{"0", Nearest, false},
		{"3", Cubic, false},
		{"5", 0, true},
		{"bicubic", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterpolation(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	var i Interpolation
	require.NoError(t, i.UnmarshalText([]byte("area")))
	assert.Equal(t, Area, i)
	text, err := Lanczos.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "lanczos", string(text))
	_, err = Interpolation(-1).MarshalText()
	assert.Error(t, err)
}
