package labware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknownDefinition  = errors.New("labware: unknown definition")
	ErrInvalidWellName    = errors.New("labware: invalid well name")
	ErrWellOutOfRange     = errors.New("labware: well out of range")
	ErrInvalidColumnCount = errors.New("labware: invalid sample column count")
)

// Well addresses one well (or tip slot) on a loaded labware.
type Well struct {
	Labware string  `json:"labware"`
	Slot    string  `json:"slot"`
	Name    string  `json:"name"`
	Row     byte    `json:"row"`
	Column  int     `json:"column"`
	Depth   float64 `json:"depth"`
}

// IsZero reports whether w is the unset well.
func (w Well) IsZero() bool {
	return w.Name == "" && w.Labware == ""
}

func (w Well) String() string {
	if w.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s %s (slot %s)", w.Labware, w.Name, w.Slot)
}

// Top is z mm relative to the well rim. Negative z is inside the well.
func (w Well) Top(z float64) Location {
	return Location{Well: w, Anchor: AnchorTop, Offset: z}
}

// Bottom is z mm above the well floor.
func (w Well) Bottom(z float64) Location {
	return Location{Well: w, Anchor: AnchorBottom, Offset: z}
}

// Center is the well's volumetric center.
func (w Well) Center() Location {
	return Location{Well: w, Anchor: AnchorCenter}
}

// Anchor is the reference point a Location offset is measured from.
type Anchor string

const (
	AnchorTop    Anchor = "top"
	AnchorBottom Anchor = "bottom"
	AnchorCenter Anchor = "center"
)

// Location is a pipetting target. The zero Location is the pipette's
// current position.
type Location struct {
	Well   Well    `json:"well"`
	Anchor Anchor  `json:"anchor,omitempty"`
	Offset float64 `json:"offset,omitempty"`
}

// IsZero reports whether l means "stay where you are".
func (l Location) IsZero() bool {
	return l.Well.IsZero() && l.Anchor == ""
}

// Height returns the absolute height above the well floor in mm.
func (l Location) Height() float64 {
	switch l.Anchor {
	case AnchorTop:
		return l.Well.Depth + l.Offset
	case AnchorBottom:
		return l.Offset
	case AnchorCenter:
		return l.Well.Depth / 2
	default:
		return 0
	}
}

func (l Location) String() string {
	if l.IsZero() {
		return "current"
	}
	if l.Anchor == AnchorCenter {
		return fmt.Sprintf("%s@center", l.Well.Name)
	}
	return fmt.Sprintf("%s@%s(%g)", l.Well.Name, l.Anchor, l.Offset)
}

// ParseWellName splits "A12" into its row letter and 1-based column.
func ParseWellName(name string) (byte, int, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if len(name) < 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidWellName, name)
	}
	row := name[0]
	if row < 'A' || row > 'Z' {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidWellName, name)
	}
	col, err := strconv.Atoi(name[1:])
	if err != nil || col < 1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidWellName, name)
	}
	return row, col, nil
}

// WellName formats a row letter and 1-based column.
func WellName(row byte, column int) string {
	return string(row) + strconv.Itoa(column)
}
