package labware

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrLabwareExists  = errors.New("labware: label already loaded")
	ErrSlotOccupied   = errors.New("labware: slot occupied")
	ErrInvalidSlot    = errors.New("labware: invalid deck slot")
	ErrUnknownLabware = errors.New("labware: unknown label")
	ErrNotTipRack     = errors.New("labware: not a tip rack")
	ErrInvalidLabel   = errors.New("labware: invalid label")
)

// DeckSlots is the number of labware slots on the deck. Slot 12 is the
// fixed trash.
const DeckSlots = 11

// TrashSlot is the fixed trash container position.
const TrashSlot = "12"

// Labware is one loaded container bound to a deck slot.
type Labware struct {
	Label string
	Slot  string
	Def   Definition
}

// Well resolves a well by name, e.g. "A1".
func (l *Labware) Well(name string) (Well, error) {
	row, col, err := ParseWellName(name)
	if err != nil {
		return Well{}, err
	}
	if int(row-'A') >= l.Def.Rows || col > l.Def.Columns {
		return Well{}, fmt.Errorf("%w: %s on %s", ErrWellOutOfRange, name, l.Label)
	}
	return Well{
		Labware: l.Label,
		Slot:    l.Slot,
		Name:    WellName(row, col),
		Row:     row,
		Column:  col,
		Depth:   l.Def.Depth,
	}, nil
}

// Column returns the first-row well of a 1-based column.
func (l *Labware) Column(col int) (Well, error) {
	return l.Well(WellName('A', col))
}

// Row returns every well of a row in column order.
func (l *Labware) Row(row byte) ([]Well, error) {
	out := make([]Well, 0, l.Def.Columns)
	for col := 1; col <= l.Def.Columns; col++ {
		w, err := l.Well(WellName(row, col))
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// IsTipRack reports whether the labware holds tips.
func (l *Labware) IsTipRack() bool {
	return l.Def.Kind == KindTipRack
}

// Registry maps logical labware labels to deck slots.
type Registry struct {
	byLabel map[string]*Labware
	bySlot  map[string]*Labware
	shared  map[string]bool
}

// NewRegistry creates an empty deck.
func NewRegistry() *Registry {
	return &Registry{
		byLabel: make(map[string]*Labware),
		bySlot:  make(map[string]*Labware),
		shared:  make(map[string]bool),
	}
}

// ReserveModule marks a slot as carrying a module. One labware may be
// loaded on top of it.
func (r *Registry) ReserveModule(slot string) error {
	slot = strings.TrimSpace(slot)
	if err := validateSlot(slot); err != nil {
		return err
	}
	if r.shared[slot] {
		return fmt.Errorf("%w: module already on slot %s", ErrSlotOccupied, slot)
	}
	if _, ok := r.bySlot[slot]; ok {
		return fmt.Errorf("%w: slot %s", ErrSlotOccupied, slot)
	}
	r.shared[slot] = true
	return nil
}

// Load places a labware definition in a slot under a unique label.
func (r *Registry) Load(label, loadName, slot string) (*Labware, error) {
	label = strings.TrimSpace(label)
	slot = strings.TrimSpace(slot)
	if label == "" {
		return nil, ErrInvalidLabel
	}
	if err := validateSlot(slot); err != nil {
		return nil, err
	}
	def, err := LookupDefinition(loadName)
	if err != nil {
		return nil, err
	}
	if _, ok := r.byLabel[label]; ok {
		return nil, fmt.Errorf("%w: %q", ErrLabwareExists, label)
	}
	if existing, ok := r.bySlot[slot]; ok {
		return nil, fmt.Errorf("%w: slot %s holds %q", ErrSlotOccupied, slot, existing.Label)
	}
	lw := &Labware{Label: label, Slot: slot, Def: def}
	r.byLabel[label] = lw
	r.bySlot[slot] = lw
	return lw, nil
}

// Get resolves a loaded labware by label.
func (r *Registry) Get(label string) (*Labware, error) {
	lw, ok := r.byLabel[strings.TrimSpace(label)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabware, label)
	}
	return lw, nil
}

// TipRack resolves a loaded labware and checks that it holds tips.
func (r *Registry) TipRack(label string) (*Labware, error) {
	lw, err := r.Get(label)
	if err != nil {
		return nil, err
	}
	if !lw.IsTipRack() {
		return nil, fmt.Errorf("%w: %q", ErrNotTipRack, label)
	}
	return lw, nil
}

// All lists loaded labware ordered by slot number.
func (r *Registry) All() []*Labware {
	out := make([]*Labware, 0, len(r.byLabel))
	for _, lw := range r.byLabel {
		out = append(out, lw)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].Slot)
		b, _ := strconv.Atoi(out[j].Slot)
		if a != b {
			return a < b
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// ModuleSlots lists slots reserved for modules.
func (r *Registry) ModuleSlots() []string {
	out := make([]string, 0, len(r.shared))
	for slot := range r.shared {
		out = append(out, slot)
	}
	sort.Strings(out)
	return out
}

// Trash is the fixed waste container.
func Trash() Well {
	return Well{Labware: "trash", Slot: TrashSlot, Name: "A1", Row: 'A', Column: 1, Depth: 80}
}

func validateSlot(slot string) error {
	n, err := strconv.Atoi(slot)
	if err != nil || n < 1 || n > DeckSlots {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return nil
}
