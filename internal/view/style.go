package view

import (
	"fmt"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Role tags a marker with its place in the pairing workflow.
type Role int

const (
	// Pending is an unconfirmed click waiting for its partner.
	Pending Role = iota
	// Confirmed is one half of a finished pair.
	Confirmed
	// Reference is a free annotation loaded by a caller.
	Reference
)

func (r Role) String() string {
	switch r {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Reference:
		return "reference"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Style controls how overlays are drawn.
type Style struct {
	Radius    float64
	Thickness float64
	Colors    map[Role]color.Color

	WindowColor color.Color
	WindowWidth float64
}

// DefaultStyle draws blue pending, red confirmed and green reference circles.
func DefaultStyle() Style {
	return Style{
		Radius:    5,
		Thickness: 3,
		Colors: map[Role]color.Color{
			Pending:   color.RGBA{0, 0, 255, 255},
			Confirmed: color.RGBA{255, 0, 0, 255},
			Reference: color.RGBA{0, 255, 0, 255},
		},
		WindowColor: color.RGBA{255, 0, 0, 255},
		WindowWidth: 2,
	}
}

// StyleSpec is the textual form of a Style as found in configuration.
type StyleSpec struct {
	Radius      float64
	Thickness   float64
	Pending     string
	Confirmed   string
	Reference   string
	WindowColor string
	WindowWidth float64
}

// ParseStyle resolves hex colours such as "#ff0000" into a Style.
func ParseStyle(spec StyleSpec) (Style, error) {
	st := DefaultStyle()
	if spec.Radius > 0 {
		st.Radius = spec.Radius
	}
	if spec.Thickness > 0 {
		st.Thickness = spec.Thickness
	}
	if spec.WindowWidth > 0 {
		st.WindowWidth = spec.WindowWidth
	}

	for role, hex := range map[Role]string{Pending: spec.Pending, Confirmed: spec.Confirmed, Reference: spec.Reference} {
		if hex == "" {
			continue
		}
		c, err := ParseColor(hex)
		if err != nil {
			return Style{}, fmt.Errorf("%s marker colour: %w", role, err)
		}
		st.Colors[role] = c
	}
	if spec.WindowColor != "" {
		c, err := ParseColor(spec.WindowColor)
		if err != nil {
			return Style{}, fmt.Errorf("window colour: %w", err)
		}
		st.WindowColor = c
	}
	return st, nil
}

// ParseColor parses a "#rgb" or "#rrggbb" colour.
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid colour %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}
