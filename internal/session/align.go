package session

import (
	"fmt"
	"image"

	"github.com/golang/geo/r2"

	"github.com/MeKo-Tech/kpalign/internal/contrast"
	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/homography"
	"github.com/MeKo-Tech/kpalign/internal/resample"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

// LoadImage installs a new base image on side sd. All points are cleared and
// both sides return to their original, unaligned frames.
func (s *Session) LoadImage(sd Side, img image.Image) error {
	st, err := s.side(sd)
	if err != nil {
		return err
	}
	if err := st.nav.SetImage(img); err != nil {
		return fmt.Errorf("load %s image: %w", sd, err)
	}
	if err := st.detail.SetImage(img); err != nil {
		return fmt.Errorf("load %s image: %w", sd, err)
	}
	st.original = img
	st.clip = 0

	s.ClearAll()
	if err := s.AlignOriginal(); err != nil {
		return err
	}
	size := viewport.SizeOf(img)
	center := r2.Point{X: float64(size.Width) / 2, Y: float64(size.Height) / 2}
	if err := st.detail.Viewport().SetCenter(center); err != nil {
		return err
	}
	s.log.Info("image loaded", "side", sd.String(), "width", size.Width, "height", size.Height)
	return nil
}

// ReplaceImage swaps the pixels of side sd, keeping points, alignment and
// the view when the shape is unchanged. A new shape invalidates points and
// alignment, so it is handled like LoadImage. The current contrast is
// re-applied either way.
func (s *Session) ReplaceImage(sd Side, img image.Image) error {
	st, err := s.side(sd)
	if err != nil {
		return err
	}
	if img == nil || viewport.SizeOf(img).Empty() {
		return fmt.Errorf("replace %s image: %w", sd, viewport.ErrInvalidImage)
	}
	if st.original == nil || viewport.SizeOf(st.original) != viewport.SizeOf(img) {
		clip := st.clip
		if err := s.LoadImage(sd, img); err != nil {
			return err
		}
		st.clip = clip
		if clip <= 0 {
			return nil
		}
	}
	st.original = img
	return s.showImage(st)
}

// SetContrast applies CLAHE with the given clip limit to side sd's original
// pixels. A clip of zero restores the original.
func (s *Session) SetContrast(sd Side, clip float64) error {
	st, err := s.side(sd)
	if err != nil {
		return err
	}
	if st.original == nil {
		return fmt.Errorf("contrast on %s: %w", sd, ErrNoImage)
	}
	st.clip = clip
	return s.showImage(st)
}

func (s *Session) showImage(st *side) error {
	img := st.original
	if st.clip > 0 {
		img = contrast.Apply(st.original, st.clip, s.opts.ContrastGrid)
	}
	if err := st.nav.SetImage(img); err != nil {
		return err
	}
	return st.detail.SetImage(img)
}

// Loaded reports whether side sd has an image.
func (s *Session) Loaded(sd Side) bool {
	st, err := s.side(sd)
	return err == nil && st.original != nil
}

// Contrast returns the clip limit applied to side sd.
func (s *Session) Contrast(sd Side) float64 {
	if st, err := s.side(sd); err == nil {
		return st.clip
	}
	return 0
}

// AlignOriginal removes every alignment transform and disables sync.
func (s *Session) AlignOriginal() error {
	for _, st := range s.sides {
		for _, vp := range []*viewport.Viewport{st.nav.Viewport(), st.detail.Viewport()} {
			if err := vp.ClearAlignTransform(); err != nil {
				return err
			}
		}
	}
	s.sync = false
	return nil
}

// Align fits the confirmed pairs from side `from` onto the other side with
// the selected transform class and warps `from` into the other image's frame.
// The other side is reset to its original frame, the detail zoom is copied
// from it and sync is enabled. On error nothing changes.
func (s *Session) Align(from Side) (fit.Result, error) {
	src, err := s.side(from)
	if err != nil {
		return fit.Result{}, err
	}
	dst := s.sides[from.Other()]
	if src.original == nil || dst.original == nil {
		return fit.Result{}, fmt.Errorf("align %s: %w", from, ErrNoImage)
	}

	res, err := s.fit(s.Points(from), s.Points(from.Other()), s.class)
	if err != nil {
		return fit.Result{}, fmt.Errorf("align %s: %w", from, err)
	}

	shape := dst.nav.Viewport().RawSize()
	if err := setAlign(res.Matrix, shape, src.nav.Viewport(), src.detail.Viewport()); err != nil {
		return fit.Result{}, fmt.Errorf("align %s: %w", from, err)
	}
	for _, vp := range []*viewport.Viewport{dst.nav.Viewport(), dst.detail.Viewport()} {
		if err := vp.ClearAlignTransform(); err != nil {
			return fit.Result{}, err
		}
	}
	if err := src.detail.Viewport().SetZoom(dst.detail.Viewport().Zoom()); err != nil {
		return fit.Result{}, err
	}
	s.sync = true

	s.log.Info("alignment fitted", "from", from.String(), "class", s.class.String(),
		"pairs", len(s.pairs), "inliers", res.InlierCount, "rmse", res.RMSE)
	return res, nil
}

// setAlign installs h on every viewport or on none.
func setAlign(h homography.Matrix, shape viewport.Size, vps ...*viewport.Viewport) error {
	type prev struct {
		align *homography.Matrix
		shape viewport.Size
	}
	saved := make([]prev, len(vps))
	for i, vp := range vps {
		saved[i] = prev{vp.Align(), vp.CorrectedShape()}
	}
	for i, vp := range vps {
		if err := vp.SetAlignTransform(h, shape); err != nil {
			for j := range i {
				if saved[j].align == nil {
					_ = vps[j].ClearAlignTransform()
				} else {
					_ = vps[j].SetAlignTransform(*saved[j].align, saved[j].shape)
				}
			}
			return err
		}
	}
	return nil
}

func (s *Session) fit(src, dst []r2.Point, class fit.TransformClass) (fit.Result, error) {
	if s.opts.Robust {
		return fit.FitRANSAC(src, dst, class, s.opts.RANSAC)
	}
	h, err := fit.Fit(src, dst, class)
	if err != nil {
		return fit.Result{}, err
	}
	rmse, err := fit.RMSE(h, src, dst)
	if err != nil {
		return fit.Result{}, err
	}
	inliers := make([]bool, len(src))
	for i := range inliers {
		inliers[i] = true
	}
	return fit.Result{Matrix: h, Inliers: inliers, InlierCount: len(src), RMSE: rmse}, nil
}

// Transform fits a full homography from side `from` to the other side, as
// saved by "save transform". It needs at least four pairs.
func (s *Session) Transform(from Side) (homography.Matrix, error) {
	if _, err := s.side(from); err != nil {
		return homography.Matrix{}, err
	}
	h, err := fit.Fit(s.Points(from), s.Points(from.Other()), fit.Homography)
	if err != nil {
		return homography.Matrix{}, fmt.Errorf("transform %s: %w", from, err)
	}
	return h, nil
}

// SetInterpolation selects the resampling kernel of every view.
func (s *Session) SetInterpolation(i resample.Interpolation) error {
	if !i.Valid() {
		return fmt.Errorf("invalid interpolation %d", int(i))
	}
	for _, st := range s.sides {
		_ = st.nav.SetInterpolation(i)
		_ = st.detail.SetInterpolation(i)
	}
	s.opts.Interpolation = i
	return nil
}

// SetTransformClass selects the class used by Align.
func (s *Session) SetTransformClass(c fit.TransformClass) error {
	if !c.Valid() {
		return fmt.Errorf("invalid transform class %d", uint8(c))
	}
	s.class = c
	return nil
}

// TransformClass returns the class used by Align.
func (s *Session) TransformClass() fit.TransformClass { return s.class }

// SyncAvailable reports whether exactly one side is aligned.
func (s *Session) SyncAvailable() bool {
	l := s.sides[Left].detail.Viewport().Align() != nil
	r := s.sides[Right].detail.Viewport().Align() != nil
	return l != r
}

// SetSync toggles recentering of the other side on secondary clicks.
func (s *Session) SetSync(on bool) error {
	if on && !s.SyncAvailable() {
		return ErrSyncUnavailable
	}
	s.sync = on
	return nil
}

// Sync reports whether sync is on.
func (s *Session) Sync() bool { return s.sync }
