package session

import (
	"image"

	"github.com/golang/geo/r2"

	"github.com/MeKo-Tech/kpalign/internal/view"
)

// Wheel zooms the detail view of side sd. Wheel events over either panel of
// a side zoom its detail view.
func (s *Session) Wheel(sd Side, notches int, fast bool) error {
	st, err := s.side(sd)
	if err != nil {
		return err
	}
	return st.detail.Viewport().Wheel(notches, fast)
}

// SetZoom sets the detail zoom of side sd in percent.
func (s *Session) SetZoom(sd Side, percent float64) error {
	st, err := s.side(sd)
	if err != nil {
		return err
	}
	return st.detail.Viewport().SetZoom(percent)
}

// SetPanelSize records a resize of one panel.
func (s *Session) SetPanelSize(sd Side, p Panel, w, h int) error {
	v, err := s.View(sd, p)
	if err != nil {
		return err
	}
	return v.Viewport().SetPanelSize(w, h)
}

// Hover returns the status text for the pointer at panelPoint.
func (s *Session) Hover(sd Side, p Panel, panelPoint r2.Point) (string, bool) {
	v, err := s.View(sd, p)
	if err != nil {
		return "", false
	}
	return v.Hover(panelPoint)
}

// Render draws one panel. The navigation panel outlines the region visible
// in the detail panel.
func (s *Session) Render(sd Side, p Panel) (*image.RGBA, error) {
	v, err := s.View(sd, p)
	if err != nil {
		return nil, err
	}
	if p == Navigation {
		st := s.sides[sd]
		poly, err := view.DetailWindow(st.nav.Viewport(), st.detail.Viewport())
		if err != nil {
			poly = nil
		}
		st.nav.SetOutline(poly)
	}
	return v.Render()
}

// ZoomLabel returns the detail zoom of side sd as text, e.g. "400%".
func (s *Session) ZoomLabel(sd Side) string {
	st, err := s.side(sd)
	if err != nil {
		return ""
	}
	return st.detail.Viewport().ZoomLabel(s.opts.Locale)
}

// SideSnapshot is the displayed state of one side.
type SideSnapshot struct {
	Loaded    bool       `json:"loaded"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	ZoomLabel string     `json:"zoom_label"`
	Zoom      float64    `json:"zoom"`
	Center    r2.Point   `json:"center"`
	Aligned   bool       `json:"aligned"`
	Contrast  float64    `json:"contrast"`
	Pending   *r2.Point  `json:"pending,omitempty"`
	Points    []r2.Point `json:"points"`

	// References are the free annotation markers of the side.
	References []r2.Point `json:"references,omitempty"`
}

// Snapshot is the output state a panel client displays.
type Snapshot struct {
	State          State        `json:"state"`
	PairCount      int          `json:"pair_count"`
	Left           SideSnapshot `json:"left"`
	Right          SideSnapshot `json:"right"`
	SyncAvailable  bool         `json:"sync_available"`
	Sync           bool         `json:"sync"`
	Interpolation  string       `json:"interpolation"`
	TransformClass string       `json:"transform_class"`
	Done           bool         `json:"done"`
}

// Snapshot captures the current state.
func (s *Session) Snapshot() Snapshot {
	_, done := s.Done()
	return Snapshot{
		State:          s.state,
		PairCount:      len(s.pairs),
		Left:           s.sideSnapshot(Left),
		Right:          s.sideSnapshot(Right),
		SyncAvailable:  s.SyncAvailable(),
		Sync:           s.sync,
		Interpolation:  s.opts.Interpolation.String(),
		TransformClass: s.class.String(),
		Done:           done,
	}
}

func (s *Session) sideSnapshot(sd Side) SideSnapshot {
	st := s.sides[sd]
	vp := st.detail.Viewport()
	size := vp.RawSize()
	snap := SideSnapshot{
		Loaded:    st.original != nil,
		Width:     size.Width,
		Height:    size.Height,
		ZoomLabel: s.ZoomLabel(sd),
		Zoom:      vp.Zoom(),
		Center:    vp.Center(),
		Aligned:   vp.Align() != nil,
		Contrast:  st.clip,
		Points:    s.Points(sd),

		References: st.detail.Markers(view.Reference),
	}
	if st.pending != nil {
		p := *st.pending
		snap.Pending = &p
	}
	return snap
}
