package fit

import (
	"fmt"
	"strconv"
	"strings"
)

// TransformClass selects the family of transforms a fit searches.
type TransformClass uint8

const (
	Translation TransformClass = iota
	Rigid
	Similarity
	Affine
	Homography
)

var classNames = [...]string{"translation", "rigid", "similarity", "affine", "homography"}

// Classes lists every transform class in index order.
func Classes() []TransformClass {
	return []TransformClass{Translation, Rigid, Similarity, Affine, Homography}
}

// MinPoints returns the number of correspondences needed to determine the class.
func (c TransformClass) MinPoints() int {
	switch c {
	case Translation:
		return 1
	case Rigid, Similarity:
		return 2
	case Affine:
		return 3
	default:
		return 4
	}
}

// Valid reports whether c is one of the defined classes.
func (c TransformClass) Valid() bool {
	return int(c) < len(classNames)
}

func (c TransformClass) String() string {
	if !c.Valid() {
		return fmt.Sprintf("TransformClass(%d)", uint8(c))
	}
	return classNames[c]
}

// ParseTransformClass accepts a class name (case-insensitive) or its index 0-4.
func ParseTransformClass(s string) (TransformClass, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, name := range classNames {
		if s == name {
			return TransformClass(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(classNames) {
		return TransformClass(n), nil
	}
	return 0, fmt.Errorf("invalid transform class: %q (must be one of: %s)", s, strings.Join(classNames[:], ", "))
}

// MarshalText implements encoding.TextMarshaler.
func (c TransformClass) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid transform class: %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *TransformClass) UnmarshalText(text []byte) error {
	parsed, err := ParseTransformClass(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
