// Package homography implements the 3x3 projective transform algebra shared by
// the viewport, fitter and view packages.
package homography

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// projectionEpsilon bounds the homogeneous w-component below which a point
// projection is considered degenerate.
const projectionEpsilon = 1e-12

var (
	// ErrSingularMatrix is returned when a matrix cannot be inverted.
	ErrSingularMatrix = errors.New("singular matrix")
	// ErrDegenerateProjection is returned when a projected point lands at infinity.
	ErrDegenerateProjection = errors.New("degenerate projection")
)

// Matrix is a row-major 3x3 projective transform.
type Matrix [9]float64

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Translation returns a pure shift by (tx, ty).
func Translation(tx, ty float64) Matrix {
	return Matrix{1, 0, tx, 0, 1, ty, 0, 0, 1}
}

// ScaleTranslate returns [[s,0,tx],[0,s,ty],[0,0,1]].
func ScaleTranslate(s, tx, ty float64) Matrix {
	return Matrix{s, 0, tx, 0, s, ty, 0, 0, 1}
}

// FromRows builds a matrix from three rows.
func FromRows(rows [3][3]float64) Matrix {
	var m Matrix
	for r := range 3 {
		for c := range 3 {
			m[3*r+c] = rows[r][c]
		}
	}
	return m
}

// Rows returns the matrix as three rows.
func (m Matrix) Rows() [3][3]float64 {
	var rows [3][3]float64
	for r := range 3 {
		for c := range 3 {
			rows[r][c] = m[3*r+c]
		}
	}
	return rows
}

// At returns the element at row r, column c.
func (m Matrix) At(r, c int) float64 {
	return m[3*r+c]
}

// Dense converts the matrix to a gonum dense matrix.
func (m Matrix) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, m[:])
	return mat.NewDense(3, 3, data)
}

// FromDense converts a 3x3 gonum matrix.
func FromDense(d mat.Matrix) (Matrix, error) {
	r, c := d.Dims()
	if r != 3 || c != 3 {
		return Matrix{}, fmt.Errorf("expected 3x3 matrix, got %dx%d", r, c)
	}
	var m Matrix
	for i := range 3 {
		for j := range 3 {
			m[3*i+j] = d.At(i, j)
		}
	}
	return m, nil
}

// Compose returns a∘b, the transform that applies b first and then a.
func Compose(a, b Matrix) Matrix {
	var out Matrix
	for r := range 3 {
		for c := range 3 {
			out[3*r+c] = a[3*r]*b[c] + a[3*r+1]*b[3+c] + a[3*r+2]*b[6+c]
		}
	}
	return out
}

// Invert returns h⁻¹. Exactly singular or numerically ill-conditioned
// matrices yield ErrSingularMatrix.
func Invert(h Matrix) (Matrix, error) {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Matrix{}, fmt.Errorf("invert %v: %w", h, ErrSingularMatrix)
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return Matrix{}, fmt.Errorf("invert (condition %g): %w", float64(cond), ErrSingularMatrix)
		}
		return Matrix{}, fmt.Errorf("invert: %w", err)
	}

	return FromDense(&inv)
}

// Apply maps p through h in homogeneous coordinates.
func Apply(h Matrix, p r2.Point) (r2.Point, error) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < projectionEpsilon || math.IsNaN(w) {
		return r2.Point{}, fmt.Errorf("apply to %v (w=%g): %w", p, w, ErrDegenerateProjection)
	}
	return r2.Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, nil
}

// ApplyMany maps every point through h, preserving order. It stops at the
// first degenerate point.
func ApplyMany(h Matrix, pts []r2.Point) ([]r2.Point, error) {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		q, err := Apply(h, p)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		out[i] = q
	}
	return out, nil
}

// Normalize scales h so that its bottom-right element is 1. Matrices whose
// h22 is zero are returned unchanged.
func (m Matrix) Normalize() Matrix {
	if math.Abs(m[8]) < projectionEpsilon {
		return m
	}
	s := 1 / m[8]
	var out Matrix
	for i, v := range m {
		out[i] = v * s
	}
	return out
}

// IsIdentity reports whether m equals the identity within tol after
// normalization.
func (m Matrix) IsIdentity(tol float64) bool {
	return m.Normalize().ApproxEqual(Identity(), tol)
}

// ApproxEqual compares element-wise within tol.
func (m Matrix) ApproxEqual(o Matrix, tol float64) bool {
	for i := range m {
		if math.Abs(m[i]-o[i]) > tol {
			return false
		}
	}
	return true
}

// IsAffine reports whether the projective row is [0 0 1] within tol.
func (m Matrix) IsAffine(tol float64) bool {
	n := m.Normalize()
	return math.Abs(n[6]) <= tol && math.Abs(n[7]) <= tol
}

func (m Matrix) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for r := range 3 {
		if r > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%g %g %g", m[3*r], m[3*r+1], m[3*r+2])
	}
	b.WriteByte(']')
	return b.String()
}
