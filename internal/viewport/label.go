package viewport

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// ZoomLabel formats the zoom as a rounded percentage, e.g. "400%".
func (v *Viewport) ZoomLabel(tag language.Tag) string {
	p := message.NewPrinter(tag)
	return p.Sprintf("%v%%", number.Decimal(math.Round(v.st.zoom),
		number.NoSeparator(), number.MaxFractionDigits(0)))
}
