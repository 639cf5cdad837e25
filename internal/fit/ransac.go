package fit

import (
	"fmt"
	"math/rand/v2"

	"github.com/golang/geo/r2"

	"github.com/MeKo-Tech/kpalign/internal/homography"
)

// RANSACOptions configures FitRANSAC.
type RANSACOptions struct {
	// Threshold is the maximum reprojection distance, in destination pixels,
	// for a pair to count as an inlier.
	Threshold float64
	// Iterations is the number of minimal samples drawn.
	Iterations int
	// Seed makes sampling reproducible.
	Seed uint64
}

// DefaultRANSACOptions returns the defaults used by the CLI.
func DefaultRANSACOptions() RANSACOptions {
	return RANSACOptions{Threshold: 3, Iterations: 500, Seed: 1}
}

// Result is a robust fit outcome.
type Result struct {
	Matrix  homography.Matrix
	Inliers []bool
	// InlierCount is the number of true entries in Inliers.
	InlierCount int
	// RMSE is measured over the inliers only.
	RMSE float64
}

// FitRANSAC fits class to the largest consensus set found by random minimal
// sampling, then refits on that set.
func FitRANSAC(src, dst []r2.Point, class TransformClass, opts RANSACOptions) (Result, error) {
	if !class.Valid() {
		return Result{}, fmt.Errorf("ransac: invalid transform class %d", uint8(class))
	}
	if len(src) != len(dst) {
		return Result{}, fmt.Errorf("ransac %s: %w", class, ErrMismatchedPoints)
	}
	k := class.MinPoints()
	if len(src) < k {
		return Result{}, &InsufficientPointsError{Class: class, Required: k, Got: len(src)}
	}
	if opts.Threshold <= 0 {
		return Result{}, fmt.Errorf("ransac threshold must be positive, got %g", opts.Threshold)
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultRANSACOptions().Iterations
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	var (
		best      []bool
		bestCount int
		bestErr   float64
		sampleSrc = make([]r2.Point, k)
		sampleDst = make([]r2.Point, k)
	)
	for range opts.Iterations {
		for i, idx := range rng.Perm(len(src))[:k] {
			sampleSrc[i] = src[idx]
			sampleDst[i] = dst[idx]
		}
		h, err := Fit(sampleSrc, sampleDst, class)
		if err != nil {
			continue
		}
		res, err := Residuals(h, src, dst)
		if err != nil {
			return Result{}, err
		}
		mask := make([]bool, len(res))
		count := 0
		sumSq := 0.0
		for i, r := range res {
			if r <= opts.Threshold {
				mask[i] = true
				count++
				sumSq += r * r
			}
		}
		if count > bestCount || (count == bestCount && count > 0 && sumSq < bestErr) {
			best, bestCount, bestErr = mask, count, sumSq
		}
		if bestCount == len(src) && bestErr == 0 {
			break
		}
	}

	if bestCount < k {
		return Result{}, fmt.Errorf("ransac %s: no consensus among %d pairs: %w", class, len(src), ErrDegenerateConfiguration)
	}

	inSrc := make([]r2.Point, 0, bestCount)
	inDst := make([]r2.Point, 0, bestCount)
	for i, ok := range best {
		if ok {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}

	h, err := Fit(inSrc, inDst, class)
	if err != nil {
		return Result{}, fmt.Errorf("ransac refit: %w", err)
	}
	rmse, err := RMSE(h, inSrc, inDst)
	if err != nil {
		return Result{}, err
	}

	return Result{Matrix: h, Inliers: best, InlierCount: bestCount, RMSE: rmse}, nil
}
