package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang/geo/r2"
)

var (
	// ErrAmbiguousAlignment is returned when a relative transform is requested
	// while both or neither side holds an alignment transform.
	ErrAmbiguousAlignment = errors.New("ambiguous alignment: exactly one side must be aligned")
	// ErrNoImage is returned for operations that need an image on a side.
	ErrNoImage = errors.New("no image loaded")
	// ErrSyncUnavailable is returned when enabling sync without a usable alignment.
	ErrSyncUnavailable = errors.New("sync unavailable until one side is aligned")
)

// Side identifies one of the two images.
type Side int

const (
	Left Side = iota
	Right
)

// Other returns the opposite side.
func (s Side) Other() Side { return 1 - s }

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// ParseSide accepts "left" or "right".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	}
	return 0, fmt.Errorf("invalid side: %q (must be one of: left, right)", s)
}

// Panel identifies one of the two views of a side.
type Panel int

const (
	Navigation Panel = iota
	Detail
)

func (p Panel) String() string {
	switch p {
	case Navigation:
		return "nav"
	case Detail:
		return "detail"
	default:
		return fmt.Sprintf("Panel(%d)", int(p))
	}
}

// ParsePanel accepts "nav", "navigation", "detail" or "zoom".
func ParsePanel(s string) (Panel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nav", "navigation":
		return Navigation, nil
	case "detail", "zoom":
		return Detail, nil
	}
	return 0, fmt.Errorf("invalid panel: %q (must be one of: nav, detail)", s)
}

// Button is the mouse button of a click.
type Button int

const (
	// Primary clicks build point pairs.
	Primary Button = iota
	// Secondary clicks recenter the detail view.
	Secondary
)

// State is the click-pairing state.
type State int

const (
	Idle State = iota
	// AwaitingRight means the left side holds a pending point.
	AwaitingRight
	// AwaitingLeft means the right side holds a pending point.
	AwaitingLeft
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingRight:
		return "awaiting_right"
	case AwaitingLeft:
		return "awaiting_left"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func awaiting(pendingOn Side) State {
	if pendingOn == Left {
		return AwaitingRight
	}
	return AwaitingLeft
}

// Pair is a confirmed correspondence in raw coordinates.
type Pair struct {
	Left  r2.Point `json:"left"`
	Right r2.Point `json:"right"`
}

// On returns the point of the pair on side s.
func (p Pair) On(s Side) r2.Point {
	if s == Left {
		return p.Left
	}
	return p.Right
}

// OutcomeKind describes what a click did.
type OutcomeKind int

const (
	Recentered OutcomeKind = iota
	PendingSet
	PendingReplaced
	PairConfirmed
)

func (k OutcomeKind) String() string {
	switch k {
	case Recentered:
		return "recentered"
	case PendingSet:
		return "pending_set"
	case PendingReplaced:
		return "pending_replaced"
	case PairConfirmed:
		return "pair_confirmed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Outcome reports the effect of a click.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Raw is the clicked point in the clicked image's raw coordinates.
	Raw r2.Point `json:"raw"`
	// Synced is true when the other side was recentered as well.
	Synced bool `json:"synced"`
	// Pair is set for PairConfirmed.
	Pair *Pair `json:"pair,omitempty"`
}

// Result is returned when the session concludes.
type Result struct {
	Pairs     []Pair `json:"pairs"`
	Cancelled bool   `json:"cancelled"`
}
