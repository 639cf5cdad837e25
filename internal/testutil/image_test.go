package testutil

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/homography"
	"github.com/MeKo-Tech/kpalign/internal/utils"
)

func TestCheckerboard(t *testing.T) {
	img := Checkerboard(ImageSize{8, 4}, 2, color.White, color.Black)
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, img.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, img.NRGBAAt(2, 0))
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, img.NRGBAAt(1, 3))
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, img.NRGBAAt(3, 3))
}

func TestGradient(t *testing.T) {
	img := Gradient(ImageSize{256, 2})
	assert.Equal(t, uint8(0), img.GrayAt(0, 1).Y)
	assert.Equal(t, uint8(100), img.GrayAt(100, 0).Y)
	assert.Equal(t, uint8(255), img.GrayAt(255, 0).Y)
}

func TestLabelledImage(t *testing.T) {
	img := LabelledImage("L", SmallSize, color.White, color.Black)
	assert.Equal(t, image.Rect(0, 0, 160, 120), img.Bounds())

	dark := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] < 128 {
			dark++
		}
	}
	assert.Positive(t, dark)
	assert.Less(t, dark, 160*120/10)
}

func TestSaveImageAndCompare(t *testing.T) {
	img := Checkerboard(SmallSize, 10, color.White, color.Black)
	path := filepath.Join(t.TempDir(), "sub", "board.png")
	SaveImage(t, img, path)
	assert.True(t, FileExists(path))

	back, _, err := utils.LoadImage(path)
	require.NoError(t, err)
	assert.True(t, CompareImages(img, back, 0))

	inverted := Checkerboard(SmallSize, 10, color.Black, color.White)
	assert.False(t, CompareImages(img, inverted, 0.1))
	assert.False(t, CompareImages(img, Checkerboard(MediumSize, 10, color.White, color.Black), 1))
}

func TestNewCorrespondences(t *testing.T) {
	truth := homography.FromRows([3][3]float64{{0.9, 0.1, 3}, {-0.1, 0.9, 7}, {0, 0, 1}})
	c, err := NewCorrespondences(truth, 12, 2, 100, 80, 5)
	require.NoError(t, err)
	assert.Len(t, c.Src, 12)
	assert.Equal(t, []bool{true, true}, c.Outliers[:2])

	res, err := fit.FitRANSAC(c.Src, c.Dst, fit.Affine, fit.RANSACOptions{Threshold: 1, Iterations: 200, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 10, res.InlierCount)
	assert.True(t, res.Matrix.ApproxEqual(truth, 1e-6))

	again, err := NewCorrespondences(truth, 12, 2, 100, 80, 5)
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	assert.True(t, FileExists(dir))

	// Existing directories are fine.
	require.NoError(t, EnsureDir(dir))
	assert.False(t, FileExists(filepath.Join(dir, "missing.png")))
}
