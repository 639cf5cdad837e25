package homography

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityApply(t *testing.T) {
	p, err := Apply(Identity(), r2.Point{X: 10, Y: 20})
	require.NoError(t, err)
	assert.InDelta(t, 10, p.X, 1e-12)
	assert.InDelta(t, 20, p.Y, 1e-12)
}

func TestComposeOrder(t *testing.T) {
	// Scale after translate: (1,1) -> (3,4) -> (6,8).
	scale := ScaleTranslate(2, 0, 0)
	shift := Translation(2, 3)

	h := Compose(scale, shift)
	p, err := Apply(h, r2.Point{X: 1, Y: 1})
	require.NoError(t, err)
	assert.InDelta(t, 6, p.X, 1e-12)
	assert.InDelta(t, 8, p.Y, 1e-12)

	// Reverse order translates the scaled point instead.
	h = Compose(shift, scale)
	p, err = Apply(h, r2.Point{X: 1, Y: 1})
	require.NoError(t, err)
	assert.InDelta(t, 4, p.X, 1e-12)
	assert.InDelta(t, 5, p.Y, 1e-12)
}

func TestInvert(t *testing.T) {
	h := FromRows([3][3]float64{
		{1.2, 0.1, 30},
		{-0.05, 0.9, -12},
		{1e-4, 2e-4, 1},
	})

	inv, err := Invert(h)
	require.NoError(t, err)
	assert.True(t, Compose(h, inv).IsIdentity(1e-9), "h*inv = %v", Compose(h, inv))
	assert.True(t, Compose(inv, h).IsIdentity(1e-9))
}

func TestInvertSingular(t *testing.T) {
	tests := []struct {
		name string
		h    Matrix
	}{
		{"zero", Matrix{}},
		{"rank one", FromRows([3][3]float64{{1, 2, 3}, {2, 4, 6}, {3, 6, 9}})},
		{"collapsed scale", ScaleTranslate(0, 5, 5)},
		{"nan", Matrix{math.NaN(), 0, 0, 0, 1, 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Invert(tt.h)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSingularMatrix), "got %v", err)
		})
	}
}

func TestApplyDegenerate(t *testing.T) {
	// Third row sends (1,0) to w = 0.
	h := FromRows([3][3]float64{{1, 0, 0}, {0, 1, 0}, {-1, 0, 1}})

	_, err := Apply(h, r2.Point{X: 1, Y: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDegenerateProjection)

	_, err = Apply(h, r2.Point{X: 0.5, Y: 0})
	assert.NoError(t, err)
}

func TestApplyMany(t *testing.T) {
	h := Translation(1, -1)
	pts := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 2}, {X: -3, Y: 4}}

	out, err := ApplyMany(h, pts)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, p := range pts {
		assert.Equal(t, p.X+1, out[i].X)
		assert.Equal(t, p.Y-1, out[i].Y)
	}

	degenerate := FromRows([3][3]float64{{1, 0, 0}, {0, 1, 0}, {-1, 0, 1}})
	_, err = ApplyMany(degenerate, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "point 1")
	assert.ErrorIs(t, err, ErrDegenerateProjection)
}

func TestNormalize(t *testing.T) {
	h := Matrix{2, 0, 4, 0, 2, 6, 0, 0, 2}
	n := h.Normalize()
	assert.True(t, n.ApproxEqual(Translation(2, 3), 1e-12))

	zero := Matrix{1, 0, 0, 0, 1, 0, 1, 0, 0}
	assert.Equal(t, zero, zero.Normalize())
}

func TestDenseRoundTrip(t *testing.T) {
	h := FromRows([3][3]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}})
	back, err := FromDense(h.Dense())
	require.NoError(t, err)
	assert.Equal(t, h, back)
	assert.Equal(t, h.Rows()[1], [3]float64{4, 5, 6})
	assert.Equal(t, 8.0, h.At(2, 1))
}

func TestIsAffine(t *testing.T) {
	assert.True(t, ScaleTranslate(3, 1, 2).IsAffine(1e-12))
	assert.False(t, FromRows([3][3]float64{{1, 0, 0}, {0, 1, 0}, {0.01, 0, 1}}).IsAffine(1e-12))
}
