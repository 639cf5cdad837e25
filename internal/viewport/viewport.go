// Package viewport derives the image-to-panel homography of a displayed image
// from its zoom, pan center, panel size and optional alignment transform.
package viewport

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r2"

	"github.com/MeKo-Tech/kpalign/internal/homography"
)

const (
	// MaxZoom is the upper zoom bound in percent.
	MaxZoom = 2000.0
	// DefaultZoom is the zoom a detail viewport starts at.
	DefaultZoom = 400.0

	wheelStep     = 1.01
	fastWheelStep = 1.1
)

// ErrInvalidImage is returned for nil or zero-size images.
var ErrInvalidImage = errors.New("invalid image: nil or zero size")

// Mode selects how the viewport scales the reference frame into the panel.
type Mode int

const (
	// Navigation fits the whole reference frame into the panel.
	Navigation Mode = iota
	// Detail scales by the zoom percentage around the pan center.
	Detail
)

func (m Mode) String() string {
	switch m {
	case Navigation:
		return "navigation"
	case Detail:
		return "detail"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Size is a width and height in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether either dimension is not positive.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// SizeOf returns the dimensions of img.
func SizeOf(img image.Image) Size {
	b := img.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}
}

// state is everything a mutator may change; derived fields are recomputed
// from the rest on every update.
type state struct {
	img       image.Image
	raw       Size
	panel     Size
	zoom      float64
	center    r2.Point
	align     *homography.Matrix
	corrected Size

	minZoom float64
	h       homography.Matrix
	inv     homography.Matrix
}

// Viewport holds the view state of one panel. It is not safe for concurrent use.
type Viewport struct {
	mode Mode
	st   state
}

// New returns an empty viewport. It becomes Ready once it has both an image
// and a non-empty panel size.
func New(mode Mode) *Viewport {
	return &Viewport{
		mode: mode,
		st: state{
			zoom: DefaultZoom,
			h:    homography.Identity(),
			inv:  homography.Identity(),
		},
	}
}

// update applies mut to a copy of the state, recomputes the homographies and
// commits only if that succeeds.
func (v *Viewport) update(mut func(*state) error) error {
	next := v.st
	if err := mut(&next); err != nil {
		return err
	}
	if err := v.recompute(&next); err != nil {
		return err
	}
	v.st = next
	return nil
}

// SetRawImage replaces the displayed image. Without an alignment transform the
// corrected shape follows the image; the pan center resets to the image center
// only when the corrected shape changed.
func (v *Viewport) SetRawImage(img image.Image) error {
	if img == nil {
		return ErrInvalidImage
	}
	size := SizeOf(img)
	if size.Empty() {
		return fmt.Errorf("%w (%dx%d)", ErrInvalidImage, size.Width, size.Height)
	}
	return v.update(func(s *state) error {
		prev := s.corrected
		s.img = img
		s.raw = size
		if s.align == nil {
			s.corrected = size
		}
		if s.corrected != prev {
			s.center = r2.Point{X: float64(size.Width) / 2, Y: float64(size.Height) / 2}
		}
		return nil
	})
}

// SetZoom sets the zoom percentage, clamped to [MinZoom, MaxZoom].
func (v *Viewport) SetZoom(percent float64) error {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return fmt.Errorf("invalid zoom: %v", percent)
	}
	return v.update(func(s *state) error {
		s.zoom = percent
		return nil
	})
}

// SetCenter sets the pan center in this image's raw coordinates.
func (v *Viewport) SetCenter(raw r2.Point) error {
	if math.IsNaN(raw.X) || math.IsNaN(raw.Y) {
		return fmt.Errorf("invalid center: %v", raw)
	}
	return v.update(func(s *state) error {
		s.center = raw
		return nil
	})
}

// SetPanelSize sets the panel dimensions in device pixels.
func (v *Viewport) SetPanelSize(w, h int) error {
	if w < 0 || h < 0 {
		return fmt.Errorf("invalid panel size %dx%d", w, h)
	}
	return v.update(func(s *state) error {
		s.panel = Size{Width: w, Height: h}
		return nil
	})
}

// SetAlignTransform installs h as the map from this image's raw coordinates
// into a reference frame of the given shape.
func (v *Viewport) SetAlignTransform(h homography.Matrix, corrected Size) error {
	if corrected.Empty() {
		return fmt.Errorf("invalid corrected shape %dx%d", corrected.Width, corrected.Height)
	}
	return v.update(func(s *state) error {
		m := h
		s.align = &m
		s.corrected = corrected
		return nil
	})
}

// ClearAlignTransform removes the alignment; the corrected shape reverts to
// the raw image shape.
func (v *Viewport) ClearAlignTransform() error {
	return v.update(func(s *state) error {
		s.align = nil
		s.corrected = s.raw
		return nil
	})
}

// Wheel applies notches of multiplicative zoom; positive notches zoom in. The
// clamp is applied after every notch.
func (v *Viewport) Wheel(notches int, fast bool) error {
	step := wheelStep
	if fast {
		step = fastWheelStep
	}
	return v.update(func(s *state) error {
		for range abs(notches) {
			if notches > 0 {
				s.zoom *= step
			} else {
				s.zoom /= step
			}
			s.zoom = clampZoom(s.zoom, minZoom(s))
		}
		return nil
	})
}

func (v *Viewport) recompute(s *state) error {
	s.minZoom = minZoom(s)
	s.zoom = clampZoom(s.zoom, s.minZoom)

	if s.img == nil || s.panel.Empty() {
		s.h = homography.Identity()
		s.inv = homography.Identity()
		return nil
	}

	var scale homography.Matrix
	switch v.mode {
	case Navigation:
		scale = FitScale(s.corrected, s.panel)
	default:
		center := s.center
		if s.align != nil {
			c, err := homography.Apply(*s.align, center)
			if err != nil {
				return fmt.Errorf("align pan center: %w", err)
			}
			center = c
		}
		sc := s.zoom / 100
		scale = homography.ScaleTranslate(sc,
			float64(s.panel.Width)/2-sc*center.X,
			float64(s.panel.Height)/2-sc*center.Y)
	}

	h := scale
	if s.align != nil {
		h = homography.Compose(scale, *s.align)
	}
	inv, err := homography.Invert(h)
	if err != nil {
		return fmt.Errorf("viewport homography: %w", err)
	}
	s.h, s.inv = h, inv
	return nil
}

// FitScale returns the aspect-preserving transform that fits ref centered
// inside panel without cropping.
func FitScale(ref, panel Size) homography.Matrix {
	if ref.Empty() || panel.Empty() {
		return homography.Identity()
	}
	rw, rh := float64(ref.Width), float64(ref.Height)
	pw, ph := float64(panel.Width), float64(panel.Height)
	if rw/rh > pw/ph {
		s := pw / rw
		return homography.ScaleTranslate(s, 0, (ph-s*rh)/2)
	}
	s := ph / rh
	return homography.ScaleTranslate(s, (pw-s*rw)/2, 0)
}

// minZoom is the zoom at which the corrected frame exactly fits the panel.
func minZoom(s *state) float64 {
	if s.corrected.Empty() || s.panel.Empty() {
		return 0
	}
	fx := float64(s.panel.Width) / float64(s.corrected.Width)
	fy := float64(s.panel.Height) / float64(s.corrected.Height)
	return math.Ceil(100 * math.Min(fx, fy))
}

// clampZoom caps at MaxZoom first so that the fit minimum wins for images
// smaller than the panel at full zoom.
func clampZoom(z, lo float64) float64 {
	z = math.Min(z, MaxZoom)
	return math.Max(z, lo)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Mode returns the viewport mode.
func (v *Viewport) Mode() Mode { return v.mode }

// Ready reports whether the viewport has an image and a panel to draw into.
func (v *Viewport) Ready() bool { return v.st.img != nil && !v.st.panel.Empty() }

// Image returns the raw image, or nil.
func (v *Viewport) Image() image.Image { return v.st.img }

// RawSize returns the raw image dimensions.
func (v *Viewport) RawSize() Size { return v.st.raw }

// Homography maps raw image coordinates to panel coordinates.
func (v *Viewport) Homography() homography.Matrix { return v.st.h }

// InverseHomography maps panel coordinates to raw image coordinates.
func (v *Viewport) InverseHomography() homography.Matrix { return v.st.inv }

// Zoom returns the clamped zoom percentage.
func (v *Viewport) Zoom() float64 { return v.st.zoom }

// MinZoom returns the current lower zoom bound.
func (v *Viewport) MinZoom() float64 { return v.st.minZoom }

// Center returns the pan center in raw coordinates.
func (v *Viewport) Center() r2.Point { return v.st.center }

// PanelSize returns the panel dimensions.
func (v *Viewport) PanelSize() Size { return v.st.panel }

// CorrectedShape returns the reference frame dimensions.
func (v *Viewport) CorrectedShape() Size { return v.st.corrected }

// Align returns a copy of the alignment transform, or nil when none is set.
func (v *Viewport) Align() *homography.Matrix {
	if v.st.align == nil {
		return nil
	}
	m := *v.st.align
	return &m
}
