// Package view couples a viewport to a renderable panel: it warps the raw
// image into panel space, draws overlays and converts input coordinates.
package view

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/MeKo-Tech/kpalign/internal/homography"
	"github.com/MeKo-Tech/kpalign/internal/resample"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

// ErrNotReady is returned when rendering or mapping without an image or panel size.
var ErrNotReady = errors.New("view not ready: image or panel size missing")

// View renders one panel. It is not safe for concurrent use.
type View struct {
	vp      *viewport.Viewport
	src     *resample.Source
	interp  resample.Interpolation
	style   Style
	locale  language.Tag
	markers []Marker
	outline []r2.Point
	caption string
}

// Option configures a View.
type Option func(*View)

// WithInterpolation sets the resampling kernel.
func WithInterpolation(i resample.Interpolation) Option {
	return func(v *View) { v.interp = i }
}

// WithStyle sets the overlay style.
func WithStyle(s Style) Option {
	return func(v *View) { v.style = s }
}

// WithLocale sets the language used for status text.
func WithLocale(tag language.Tag) Option {
	return func(v *View) { v.locale = tag }
}

// New returns a view with an empty viewport of the given mode.
func New(mode viewport.Mode, opts ...Option) *View {
	v := &View{
		vp:     viewport.New(mode),
		interp: resample.DefaultInterpolation,
		style:  DefaultStyle(),
		locale: language.English,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Viewport exposes the underlying viewport for zoom, pan and alignment changes.
func (v *View) Viewport() *viewport.Viewport { return v.vp }

// SetImage replaces the raw image. Markers are kept.
func (v *View) SetImage(img image.Image) error {
	if err := v.vp.SetRawImage(img); err != nil {
		return err
	}
	v.src = resample.NewSource(img)
	return nil
}

// SetInterpolation selects the resampling kernel.
func (v *View) SetInterpolation(i resample.Interpolation) error {
	if !i.Valid() {
		return fmt.Errorf("invalid interpolation %d", int(i))
	}
	v.interp = i
	return nil
}

// Interpolation returns the current kernel.
func (v *View) Interpolation() resample.Interpolation { return v.interp }

// SetOutline sets a closed polygon, in panel coordinates, drawn on top of the
// image. A nil polygon removes it.
func (v *View) SetOutline(poly []r2.Point) {
	v.outline = append([]r2.Point(nil), poly...)
}

// SetCaption sets a text label drawn in the bottom-left corner.
func (v *View) SetCaption(s string) { v.caption = s }

// Render produces the panel bitmap with overlays.
func (v *View) Render() (*image.RGBA, error) {
	if !v.vp.Ready() || v.src == nil {
		return nil, ErrNotReady
	}
	size := v.vp.PanelSize()
	out := v.src.Warp(v.vp.InverseHomography(), size.Width, size.Height, v.interp)
	v.drawOverlay(out)
	return out, nil
}

func (v *View) drawOverlay(out *image.RGBA) {
	dc := gg.NewContextForRGBA(out)

	dc.SetLineWidth(v.style.Thickness)
	for _, m := range v.MarkerPanelPositions() {
		c, ok := v.style.Colors[m.Role]
		if !ok {
			continue
		}
		dc.DrawCircle(m.Panel.X, m.Panel.Y, v.style.Radius)
		dc.SetColor(c)
		dc.Stroke()
	}

	if len(v.outline) >= 2 {
		dc.MoveTo(v.outline[0].X, v.outline[0].Y)
		for _, p := range v.outline[1:] {
			dc.LineTo(p.X, p.Y)
		}
		dc.ClosePath()
		dc.SetLineWidth(v.style.WindowWidth)
		dc.SetColor(v.style.WindowColor)
		dc.Stroke()
	}

	if v.caption != "" {
		dc.SetFontFace(basicfont.Face7x13)
		dc.SetColor(color.White)
		dc.DrawString(v.caption, 4, float64(out.Rect.Dy())-4)
	}
}

// PanelToRaw maps a panel point to raw image coordinates.
func (v *View) PanelToRaw(p r2.Point) (r2.Point, error) {
	if !v.vp.Ready() {
		return r2.Point{}, ErrNotReady
	}
	return homography.Apply(v.vp.InverseHomography(), p)
}

// RawToPanel maps a raw image point to panel coordinates.
func (v *View) RawToPanel(p r2.Point) (r2.Point, error) {
	if !v.vp.Ready() {
		return r2.Point{}, ErrNotReady
	}
	return homography.Apply(v.vp.Homography(), p)
}

// Hover returns the status text for the pointer at panel point p. The second
// result is false when p does not fall on the raw image and the status should
// be cleared.
func (v *View) Hover(p r2.Point) (string, bool) {
	raw, err := v.PanelToRaw(p)
	if err != nil {
		return "", false
	}
	size := v.vp.RawSize()
	if raw.X < 0 || raw.Y < 0 || raw.X > float64(size.Width) || raw.Y > float64(size.Height) {
		return "", false
	}
	pr := message.NewPrinter(v.locale)
	return pr.Sprintf("Raw Image Coordinates (%v,%v)", coord(raw.X), coord(raw.Y)), true
}

func coord(x float64) number.Formatter {
	return number.Decimal(x, number.NoSeparator(), number.MinFractionDigits(2), number.MaxFractionDigits(2))
}

// DetailWindow returns the detail panel's visible region as a polygon in the
// navigation panel's coordinates.
func DetailWindow(nav, detail *viewport.Viewport) ([]r2.Point, error) {
	if !nav.Ready() || !detail.Ready() {
		return nil, ErrNotReady
	}
	size := detail.PanelSize()
	w, h := float64(size.Width), float64(size.Height)
	corners := []r2.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}

	raw, err := homography.ApplyMany(detail.InverseHomography(), corners)
	if err != nil {
		return nil, fmt.Errorf("detail window: %w", err)
	}
	poly, err := homography.ApplyMany(nav.Homography(), raw)
	if err != nil {
		return nil, fmt.Errorf("detail window: %w", err)
	}
	return poly, nil
}
