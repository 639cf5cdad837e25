// Package session coordinates two images, each shown in a navigation and a
// detail view, and builds index-aligned point pairs from clicks.
package session

import (
	"fmt"
	"image"
	"log/slog"
	"slices"

	"github.com/golang/geo/r2"
	"golang.org/x/text/language"

	"github.com/MeKo-Tech/kpalign/internal/contrast"
	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/homography"
	"github.com/MeKo-Tech/kpalign/internal/resample"
	"github.com/MeKo-Tech/kpalign/internal/view"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

// Options configures a Session.
type Options struct {
	InitialZoom    float64
	Interpolation  resample.Interpolation
	TransformClass fit.TransformClass
	Style          view.Style
	Locale         language.Tag
	ContrastGrid   int
	// Robust selects RANSAC for Align.
	Robust bool
	RANSAC fit.RANSACOptions
	Logger *slog.Logger
}

// DefaultOptions returns the defaults of the interactive tool.
func DefaultOptions() Options {
	return Options{
		InitialZoom:    viewport.DefaultZoom,
		Interpolation:  resample.DefaultInterpolation,
		TransformClass: fit.Homography,
		Style:          view.DefaultStyle(),
		Locale:         language.English,
		ContrastGrid:   contrast.DefaultTileGrid,
		RANSAC:         fit.DefaultRANSACOptions(),
	}
}

type side struct {
	nav      *view.View
	detail   *view.View
	original image.Image
	clip     float64
	pending  *r2.Point
}

// Session is single-owner: callers must serialize all method calls.
type Session struct {
	opts  Options
	log   *slog.Logger
	sides [2]*side
	state State
	pairs []Pair
	sync  bool
	class fit.TransformClass
	done  *Result
}

// New returns an idle session without images.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.InitialZoom <= 0 {
		opts.InitialZoom = viewport.DefaultZoom
	}
	if opts.Style.Colors == nil {
		opts.Style = view.DefaultStyle()
	}
	if opts.Locale == language.Und {
		opts.Locale = language.English
	}
	s := &Session{opts: opts, log: opts.Logger, class: opts.TransformClass}
	for i := range s.sides {
		viewOpts := []view.Option{
			view.WithInterpolation(opts.Interpolation),
			view.WithStyle(opts.Style),
			view.WithLocale(opts.Locale),
		}
		sd := &side{
			nav:    view.New(viewport.Navigation, viewOpts...),
			detail: view.New(viewport.Detail, viewOpts...),
		}
		_ = sd.detail.Viewport().SetZoom(opts.InitialZoom)
		s.sides[i] = sd
	}
	return s
}

func (s *Session) side(sd Side) (*side, error) {
	if sd != Left && sd != Right {
		return nil, fmt.Errorf("invalid side %d", int(sd))
	}
	return s.sides[sd], nil
}

// View returns the view of the given side and panel.
func (s *Session) View(sd Side, p Panel) (*view.View, error) {
	st, err := s.side(sd)
	if err != nil {
		return nil, err
	}
	switch p {
	case Navigation:
		return st.nav, nil
	case Detail:
		return st.detail, nil
	}
	return nil, fmt.Errorf("invalid panel %d", int(p))
}

// State returns the click-pairing state.
func (s *Session) State() State { return s.state }

// Click handles a click at panel point p. Navigation clicks always recenter
// the detail view; detail clicks pair on the primary button and recenter on
// the secondary one.
func (s *Session) Click(sd Side, p Panel, b Button, panelPoint r2.Point) (Outcome, error) {
	v, err := s.View(sd, p)
	if err != nil {
		return Outcome{}, err
	}
	raw, err := v.PanelToRaw(panelPoint)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s %s click: %w", sd, p, err)
	}
	if p == Navigation || b == Secondary {
		return s.SecondaryRaw(sd, raw)
	}
	return s.PrimaryRaw(sd, raw)
}

// PrimaryRaw advances the pairing state machine with a raw point on side sd.
// A second click on the side that already holds the pending point replaces it.
func (s *Session) PrimaryRaw(sd Side, raw r2.Point) (Outcome, error) {
	st, err := s.side(sd)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Raw: raw}

	switch {
	case s.state == Idle:
		p := raw
		st.pending = &p
		s.state = awaiting(sd)
		out.Kind = PendingSet
	case s.state == awaiting(sd):
		p := raw
		st.pending = &p
		out.Kind = PendingReplaced
	default:
		other := s.sides[sd.Other()]
		var pair Pair
		if sd == Left {
			pair = Pair{Left: raw, Right: *other.pending}
		} else {
			pair = Pair{Left: *other.pending, Right: raw}
		}
		other.pending = nil
		s.pairs = append(s.pairs, pair)
		s.state = Idle
		out.Kind = PairConfirmed
		out.Pair = &pair
	}

	s.refreshMarkers()
	s.log.Debug("primary click", "side", sd.String(), "x", raw.X, "y", raw.Y,
		"outcome", out.Kind.String(), "state", s.state.String(), "pairs", len(s.pairs))
	return out, nil
}

// SecondaryRaw recenters the detail view of side sd on raw and, with sync on,
// the other side's detail view on the corresponding point.
func (s *Session) SecondaryRaw(sd Side, raw r2.Point) (Outcome, error) {
	st, err := s.side(sd)
	if err != nil {
		return Outcome{}, err
	}

	var (
		otherCenter r2.Point
		synced      bool
	)
	if s.sync {
		rel, err := s.RelativeTransform(sd)
		if err != nil {
			return Outcome{}, err
		}
		otherCenter, err = homography.Apply(rel, raw)
		if err != nil {
			return Outcome{}, fmt.Errorf("sync center: %w", err)
		}
		synced = true
	}

	if err := st.detail.Viewport().SetCenter(raw); err != nil {
		return Outcome{}, err
	}
	if synced {
		if err := s.sides[sd.Other()].detail.Viewport().SetCenter(otherCenter); err != nil {
			return Outcome{}, err
		}
	}
	s.log.Debug("recenter", "side", sd.String(), "x", raw.X, "y", raw.Y, "synced", synced)
	return Outcome{Kind: Recentered, Raw: raw, Synced: synced}, nil
}

// RelativeTransform maps side sd's raw coordinates into the other side's raw
// coordinates: inverse(otherAlign) ∘ thisAlign, with an absent alignment
// treated as identity.
func (s *Session) RelativeTransform(sd Side) (homography.Matrix, error) {
	if _, err := s.side(sd); err != nil {
		return homography.Matrix{}, err
	}
	this := s.sides[sd].detail.Viewport().Align()
	other := s.sides[sd.Other()].detail.Viewport().Align()
	if (this == nil) == (other == nil) {
		return homography.Matrix{}, ErrAmbiguousAlignment
	}

	thisAlign, otherAlign := homography.Identity(), homography.Identity()
	if this != nil {
		thisAlign = *this
	}
	if other != nil {
		otherAlign = *other
	}
	inv, err := homography.Invert(otherAlign)
	if err != nil {
		return homography.Matrix{}, fmt.Errorf("relative transform: %w", err)
	}
	return homography.Compose(inv, thisAlign), nil
}

// ClearLast removes the newest pair when idle, otherwise the pending point.
func (s *Session) ClearLast() {
	if s.state == Idle {
		if len(s.pairs) > 0 {
			s.pairs = s.pairs[:len(s.pairs)-1]
		}
	} else {
		s.clearPending()
	}
	s.refreshMarkers()
}

// ClearAll drops every pending and confirmed point.
func (s *Session) ClearAll() {
	s.pairs = nil
	s.clearPending()
	s.refreshMarkers()
}

func (s *Session) clearPending() {
	for _, st := range s.sides {
		st.pending = nil
	}
	s.state = Idle
}

// Pairs returns a copy of the confirmed pairs.
func (s *Session) Pairs() []Pair {
	return slices.Clone(s.pairs)
}

// SetPairs replaces the confirmed pairs, e.g. from a points file, and resets
// any pending click.
func (s *Session) SetPairs(pairs []Pair) {
	s.pairs = slices.Clone(pairs)
	s.clearPending()
	s.refreshMarkers()
}

// Points returns the confirmed points of one side in pair order.
func (s *Session) Points(sd Side) []r2.Point {
	pts := make([]r2.Point, len(s.pairs))
	for i, p := range s.pairs {
		pts[i] = p.On(sd)
	}
	return pts
}

func (s *Session) refreshMarkers() {
	for i, st := range s.sides {
		confirmed := s.Points(Side(i))
		var pending []r2.Point
		if st.pending != nil {
			pending = []r2.Point{*st.pending}
		}
		for _, v := range []*view.View{st.nav, st.detail} {
			v.SetMarkers(view.Confirmed, confirmed)
			v.SetMarkers(view.Pending, pending)
		}
	}
}

// SetReferenceMarkers sets free annotation points on one side.
func (s *Session) SetReferenceMarkers(sd Side, pts []r2.Point) error {
	st, err := s.side(sd)
	if err != nil {
		return err
	}
	st.nav.SetMarkers(view.Reference, pts)
	st.detail.SetMarkers(view.Reference, pts)
	return nil
}

// Finish concludes the session with the confirmed pairs.
func (s *Session) Finish() Result {
	if s.done == nil {
		s.done = &Result{Pairs: s.Pairs()}
		s.log.Info("session finished", "pairs", len(s.pairs))
	}
	return *s.done
}

// Cancel concludes the session without a result.
func (s *Session) Cancel() Result {
	if s.done == nil {
		s.done = &Result{Cancelled: true}
		s.log.Info("session cancelled")
	}
	return *s.done
}

// Done returns the result once Finish or Cancel has been called.
func (s *Session) Done() (Result, bool) {
	if s.done == nil {
		return Result{}, false
	}
	return *s.done, true
}
