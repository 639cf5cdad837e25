package view

import (
	"slices"

	"github.com/golang/geo/r2"
)

// Marker is an overlay point stored in raw image coordinates.
type Marker struct {
	Point r2.Point `json:"point"`
	Role  Role     `json:"role"`
}

// PanelMarker is a marker together with its current panel position.
type PanelMarker struct {
	Marker
	Panel r2.Point `json:"panel"`
}

// SetMarkers replaces every marker of the given role.
func (v *View) SetMarkers(role Role, pts []r2.Point) {
	v.ClearMarkers(role)
	for _, p := range pts {
		v.markers = append(v.markers, Marker{Point: p, Role: role})
	}
}

// AddMarker appends a marker.
func (v *View) AddMarker(role Role, p r2.Point) {
	v.markers = append(v.markers, Marker{Point: p, Role: role})
}

// ClearLastMarker removes the most recently added marker of role. It reports
// whether one was removed.
func (v *View) ClearLastMarker(role Role) bool {
	for i := len(v.markers) - 1; i >= 0; i-- {
		if v.markers[i].Role == role {
			v.markers = slices.Delete(v.markers, i, i+1)
			return true
		}
	}
	return false
}

// ClearMarkers removes markers of the given roles, or all markers when no
// role is given.
func (v *View) ClearMarkers(roles ...Role) {
	if len(roles) == 0 {
		v.markers = nil
		return
	}
	v.markers = slices.DeleteFunc(v.markers, func(m Marker) bool {
		return slices.Contains(roles, m.Role)
	})
}

// Markers returns the raw points of the given role in insertion order.
func (v *View) Markers(role Role) []r2.Point {
	var pts []r2.Point
	for _, m := range v.markers {
		if m.Role == role {
			pts = append(pts, m.Point)
		}
	}
	return pts
}

// AllMarkers returns a copy of every marker.
func (v *View) AllMarkers() []Marker {
	return slices.Clone(v.markers)
}

// MarkerPanelPositions projects every marker through the current homography.
// Markers that project to infinity are omitted.
func (v *View) MarkerPanelPositions() []PanelMarker {
	if !v.vp.Ready() {
		return nil
	}
	out := make([]PanelMarker, 0, len(v.markers))
	for _, m := range v.markers {
		p, err := v.RawToPanel(m.Point)
		if err != nil {
			continue
		}
		out = append(out, PanelMarker{Marker: m, Panel: p})
	}
	return out
}
