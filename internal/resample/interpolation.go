package resample

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// Interpolation selects the reconstruction kernel used by Warp.
type Interpolation int

const (
	Nearest Interpolation = iota
	Linear
	Area
	Cubic
	Lanczos
)

// DefaultInterpolation is the kernel used when none is configured.
const DefaultInterpolation = Cubic

var interpolationNames = [...]string{"nearest", "linear", "area", "cubic", "lanczos"}

// Interpolations lists every kernel in index order.
func Interpolations() []Interpolation {
	return []Interpolation{Nearest, Linear, Area, Cubic, Lanczos}
}

// Valid reports whether i is a defined kernel.
func (i Interpolation) Valid() bool {
	return i >= 0 && int(i) < len(interpolationNames)
}

func (i Interpolation) String() string {
	if !i.Valid() {
		return fmt.Sprintf("Interpolation(%d)", int(i))
	}
	return interpolationNames[i]
}

// ParseInterpolation accepts a kernel name (case-insensitive) or its index 0-4.
func ParseInterpolation(s string) (Interpolation, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, name := range interpolationNames {
		if s == name {
			return Interpolation(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Interpolation(n).Valid() {
		return Interpolation(n), nil
	}
	return 0, fmt.Errorf("invalid interpolation: %q (must be one of: %s)", s, strings.Join(interpolationNames[:], ", "))
}

// MarshalText implements encoding.TextMarshaler.
func (i Interpolation) MarshalText() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("invalid interpolation: %d", int(i))
	}
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Interpolation) UnmarshalText(text []byte) error {
	parsed, err := ParseInterpolation(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// filter returns the reconstruction kernel for i.
func (i Interpolation) filter() imaging.ResampleFilter {
	switch i {
	case Nearest:
		return imaging.NearestNeighbor
	case Linear:
		return imaging.Linear
	case Area:
		return imaging.Box
	case Lanczos:
		return imaging.Lanczos
	default:
		return imaging.CatmullRom
	}
}
