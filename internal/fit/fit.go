// Package fit computes least-squares transforms from index-aligned point
// correspondences.
package fit

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/MeKo-Tech/kpalign/internal/homography"
)

var (
	// ErrMismatchedPoints is returned when source and destination differ in length.
	ErrMismatchedPoints = errors.New("source and destination point counts differ")
	// ErrDegenerateConfiguration is returned when the point geometry cannot
	// determine a transform of the requested class.
	ErrDegenerateConfiguration = errors.New("degenerate point configuration")
)

// rankTolerance is the smallest relative singular value accepted as non-zero.
const rankTolerance = 1e-10

// InsufficientPointsError reports a fit attempted with too few correspondences.
type InsufficientPointsError struct {
	Class    TransformClass
	Required int
	Got      int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("%s fit requires at least %d point pairs, got %d", e.Class, e.Required, e.Got)
}

// Fit returns the transform of the given class that maps src onto dst in the
// least-squares sense.
func Fit(src, dst []r2.Point, class TransformClass) (homography.Matrix, error) {
	if !class.Valid() {
		return homography.Matrix{}, fmt.Errorf("fit: invalid transform class %d", uint8(class))
	}
	if len(src) != len(dst) {
		return homography.Matrix{}, fmt.Errorf("fit %s (%d vs %d): %w", class, len(src), len(dst), ErrMismatchedPoints)
	}
	if len(src) < class.MinPoints() {
		return homography.Matrix{}, &InsufficientPointsError{Class: class, Required: class.MinPoints(), Got: len(src)}
	}

	var (
		h   homography.Matrix
		err error
	)
	switch class {
	case Translation:
		h = fitTranslation(src, dst)
	case Rigid:
		h, err = fitProcrustes(src, dst, false)
	case Similarity:
		h, err = fitProcrustes(src, dst, true)
	case Affine:
		h, err = fitAffine(src, dst)
	case Homography:
		h, err = fitHomography(src, dst)
	}
	if err != nil {
		return homography.Matrix{}, fmt.Errorf("fit %s: %w", class, err)
	}
	return h, nil
}

func centroid(pts []r2.Point) r2.Point {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(pts)))
}

func fitTranslation(src, dst []r2.Point) homography.Matrix {
	var d r2.Point
	for i := range src {
		d = d.Add(dst[i].Sub(src[i]))
	}
	d = d.Mul(1 / float64(len(src)))
	return homography.Translation(d.X, d.Y)
}

// fitProcrustes solves the Umeyama rotation (and optional scale) problem.
func fitProcrustes(src, dst []r2.Point, withScale bool) (homography.Matrix, error) {
	n := float64(len(src))
	ms, md := centroid(src), centroid(dst)

	var varSrc float64
	sigma := mat.NewDense(2, 2, nil)
	for i := range src {
		s := src[i].Sub(ms)
		d := dst[i].Sub(md)
		varSrc += s.Dot(s)
		sigma.Set(0, 0, sigma.At(0, 0)+d.X*s.X)
		sigma.Set(0, 1, sigma.At(0, 1)+d.X*s.Y)
		sigma.Set(1, 0, sigma.At(1, 0)+d.Y*s.X)
		sigma.Set(1, 1, sigma.At(1, 1)+d.Y*s.Y)
	}
	varSrc /= n
	sigma.Scale(1/n, sigma)

	if varSrc < 1e-18 {
		return homography.Matrix{}, fmt.Errorf("source points coincide: %w", ErrDegenerateConfiguration)
	}

	var svd mat.SVD
	if ok := svd.Factorize(sigma, mat.SVDFull); !ok {
		return homography.Matrix{}, fmt.Errorf("cross-covariance SVD failed: %w", ErrDegenerateConfiguration)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	// Reflection correction keeps the result a proper rotation.
	sign := 1.0
	if mat.Det(&u)*mat.Det(&v) < 0 {
		sign = -1
	}
	correction := mat.NewDiagDense(2, []float64{1, sign})

	var rot, tmp mat.Dense
	tmp.Mul(&u, correction)
	rot.Mul(&tmp, v.T())

	scale := 1.0
	if withScale {
		scale = (values[0] + sign*values[1]) / varSrc
	}

	r00, r01 := scale*rot.At(0, 0), scale*rot.At(0, 1)
	r10, r11 := scale*rot.At(1, 0), scale*rot.At(1, 1)
	tx := md.X - (r00*ms.X + r01*ms.Y)
	ty := md.Y - (r10*ms.X + r11*ms.Y)

	return homography.Matrix{r00, r01, tx, r10, r11, ty, 0, 0, 1}, nil
}

// fitAffine solves the normal equations (MᵀM)p = Mᵀu for each output row.
func fitAffine(src, dst []r2.Point) (homography.Matrix, error) {
	ms := centroid(src)
	var sxx, syy, sxy float64
	for _, p := range src {
		d := p.Sub(ms)
		sxx += d.X * d.X
		syy += d.Y * d.Y
		sxy += d.X * d.Y
	}
	spread := sxx + syy
	if spread == 0 || math.Abs(sxx*syy-sxy*sxy) <= 1e-12*spread*spread {
		return homography.Matrix{}, fmt.Errorf("source points are collinear: %w", ErrDegenerateConfiguration)
	}

	n := len(src)
	m := mat.NewDense(n, 3, nil)
	ux := mat.NewVecDense(n, nil)
	uy := mat.NewVecDense(n, nil)
	for i := range src {
		m.SetRow(i, []float64{src[i].X, src[i].Y, 1})
		ux.SetVec(i, dst[i].X)
		uy.SetVec(i, dst[i].Y)
	}

	var mtm mat.Dense
	mtm.Mul(m.T(), m)

	solveRow := func(u *mat.VecDense) ([]float64, error) {
		var mtu, p mat.VecDense
		mtu.MulVec(m.T(), u)
		if err := p.SolveVec(&mtm, &mtu); err != nil {
			return nil, fmt.Errorf("normal equations: %w", ErrDegenerateConfiguration)
		}
		return []float64{p.AtVec(0), p.AtVec(1), p.AtVec(2)}, nil
	}

	rowX, err := solveRow(ux)
	if err != nil {
		return homography.Matrix{}, err
	}
	rowY, err := solveRow(uy)
	if err != nil {
		return homography.Matrix{}, err
	}

	return homography.Matrix{rowX[0], rowX[1], rowX[2], rowY[0], rowY[1], rowY[2], 0, 0, 1}, nil
}

// normalization returns the similarity that moves pts to zero mean and mean
// distance sqrt(2) from the origin.
func normalization(pts []r2.Point) (homography.Matrix, error) {
	c := centroid(pts)
	var meanDist float64
	for _, p := range pts {
		meanDist += p.Sub(c).Norm()
	}
	meanDist /= float64(len(pts))
	if meanDist < 1e-12 {
		return homography.Matrix{}, fmt.Errorf("points coincide: %w", ErrDegenerateConfiguration)
	}
	s := math.Sqrt2 / meanDist
	return homography.ScaleTranslate(s, -s*c.X, -s*c.Y), nil
}

// fitHomography is the Hartley-normalised direct linear transform.
func fitHomography(src, dst []r2.Point) (homography.Matrix, error) {
	tSrc, err := normalization(src)
	if err != nil {
		return homography.Matrix{}, err
	}
	tDst, err := normalization(dst)
	if err != nil {
		return homography.Matrix{}, err
	}

	ns, err := homography.ApplyMany(tSrc, src)
	if err != nil {
		return homography.Matrix{}, err
	}
	nd, err := homography.ApplyMany(tDst, dst)
	if err != nil {
		return homography.Matrix{}, err
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range ns {
		x, y := ns[i].X, ns[i].Y
		u, v := nd[i].X, nd[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return homography.Matrix{}, fmt.Errorf("DLT SVD failed: %w", ErrDegenerateConfiguration)
	}
	values := svd.Values(nil)
	// The system must have rank 8 for a unique null vector.
	if len(values) < 8 || values[0] == 0 || values[7]/values[0] < rankTolerance {
		return homography.Matrix{}, fmt.Errorf("DLT system is rank deficient: %w", ErrDegenerateConfiguration)
	}

	var v mat.Dense
	svd.VTo(&v)
	var hn homography.Matrix
	for i := range 9 {
		hn[i] = v.At(i, 8)
	}

	tDstInv, err := homography.Invert(tDst)
	if err != nil {
		return homography.Matrix{}, err
	}
	h := homography.Compose(tDstInv, homography.Compose(hn, tSrc))
	if math.Abs(h[8]) < 1e-12 {
		return homography.Matrix{}, fmt.Errorf("fitted homography maps origin to infinity: %w", ErrDegenerateConfiguration)
	}
	return h.Normalize(), nil
}

// Residuals returns the reprojection distance |h(src[i]) - dst[i]| per pair.
// Pairs that project to infinity get +Inf.
func Residuals(h homography.Matrix, src, dst []r2.Point) ([]float64, error) {
	if len(src) != len(dst) {
		return nil, ErrMismatchedPoints
	}
	out := make([]float64, len(src))
	for i := range src {
		p, err := homography.Apply(h, src[i])
		if err != nil {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = p.Sub(dst[i]).Norm()
	}
	return out, nil
}

// RMSE returns the root mean square reprojection error.
func RMSE(h homography.Matrix, src, dst []r2.Point) (float64, error) {
	res, err := Residuals(h, src, dst)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	var sum float64
	for _, r := range res {
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(res))), nil
}
