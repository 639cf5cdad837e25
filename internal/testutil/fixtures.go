package testutil

import (
	"math/rand/v2"

	"github.com/golang/geo/r2"

	"github.com/MeKo-Tech/kpalign/internal/homography"
)

// Correspondences is a set of index-aligned point pairs related by a known
// transform, optionally with a few corrupted targets.
type Correspondences struct {
	Truth    homography.Matrix
	Src, Dst []r2.Point
	// Outliers marks pairs whose Dst was replaced by a random point.
	Outliers []bool
}

// NewCorrespondences draws n source points uniformly inside a w×h frame and
// maps them through truth. The first `outliers` pairs are then corrupted.
func NewCorrespondences(truth homography.Matrix, n, outliers int, w, h float64, seed uint64) (Correspondences, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	c := Correspondences{
		Truth:    truth,
		Src:      make([]r2.Point, n),
		Dst:      make([]r2.Point, n),
		Outliers: make([]bool, n),
	}
	for i := range n {
		c.Src[i] = r2.Point{X: rng.Float64() * w, Y: rng.Float64() * h}
		p, err := homography.Apply(truth, c.Src[i])
		if err != nil {
			return Correspondences{}, err
		}
		c.Dst[i] = p
	}
	for i := range min(outliers, n) {
		c.Dst[i] = c.Dst[i].Add(r2.Point{X: 50 + rng.Float64()*w, Y: -50 - rng.Float64()*h})
		c.Outliers[i] = true
	}
	return c, nil
}
