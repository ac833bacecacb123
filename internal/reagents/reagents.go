package reagents

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
)

var (
	ErrInvalidReagent   = errors.New("reagents: invalid descriptor")
	ErrDuplicateReagent = errors.New("reagents: duplicate reagent")
	ErrUnknownReagent   = errors.New("reagents: unknown reagent")
)

// Descriptor is one reagent and how it is dispensed into each sample.
type Descriptor struct {
	Name           string          `json:"name"`
	Source         labware.Well    `json:"source"`
	TransferVolume float64         `json:"transfer_volume"`
	MixVolume      float64         `json:"mix_volume"`
	MixRepetitions int             `json:"mix_repetitions"`
	TipPolicy      robot.TipPolicy `json:"tip_policy"`
	// DrawHeight is mm above the source floor; zero means 0.6.
	DrawHeight float64 `json:"draw_height,omitempty"`
}

// DefaultDrawHeight keeps the tip just off the reservoir floor.
const DefaultDrawHeight = 0.6

// Draw is the aspirate location in the source well.
func (d Descriptor) Draw() labware.Location {
	return d.DrawFrom(d.Source)
}

// DrawFrom is the aspirate location in src at the descriptor's height.
func (d Descriptor) DrawFrom(src labware.Well) labware.Location {
	if d.DrawHeight > 0 {
		return src.Bottom(d.DrawHeight)
	}
	return src.Bottom(DefaultDrawHeight)
}

// Validate checks volumes against the pipette capacity.
func (d Descriptor) Validate(maxVolume float64) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidReagent)
	}
	if d.Source.IsZero() {
		return fmt.Errorf("%w: %s: source well required", ErrInvalidReagent, d.Name)
	}
	if d.TransferVolume <= 0 {
		return fmt.Errorf("%w: %s: transfer volume %g", ErrInvalidReagent, d.Name, d.TransferVolume)
	}
	if d.MixVolume <= 0 || d.MixVolume > maxVolume {
		return fmt.Errorf("%w: %s: mix volume %g outside (0,%g]", ErrInvalidReagent, d.Name, d.MixVolume, maxVolume)
	}
	if d.DrawHeight < 0 {
		return fmt.Errorf("%w: %s: draw height %g", ErrInvalidReagent, d.Name, d.DrawHeight)
	}
	if d.MixRepetitions < 0 {
		return fmt.Errorf("%w: %s: mix repetitions %d", ErrInvalidReagent, d.Name, d.MixRepetitions)
	}
	if _, err := robot.ParseTipPolicy(string(d.TipPolicy)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidReagent, d.Name, err)
	}
	return nil
}

// Table holds descriptors in insertion order.
type Table struct {
	maxVolume float64
	order     []string
	byName    map[string]Descriptor
}

func NewTable(maxVolume float64) *Table {
	return &Table{
		maxVolume: maxVolume,
		byName:    make(map[string]Descriptor),
	}
}

// Add validates d and appends it. Names are unique.
func (t *Table) Add(d Descriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	if err := d.Validate(t.maxVolume); err != nil {
		return err
	}
	if _, ok := t.byName[d.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateReagent, d.Name)
	}
	policy, _ := robot.ParseTipPolicy(string(d.TipPolicy))
	d.TipPolicy = policy
	t.order = append(t.order, d.Name)
	t.byName[d.Name] = d
	return nil
}

func (t *Table) Lookup(name string) (Descriptor, error) {
	d, ok := t.byName[strings.TrimSpace(name)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownReagent, name)
	}
	return d, nil
}

func (t *Table) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// All returns descriptors in insertion order.
func (t *Table) All() []Descriptor {
	out := make([]Descriptor, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.byName[name])
	}
	return out
}

func (t *Table) Len() int {
	return len(t.order)
}
