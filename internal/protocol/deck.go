package protocol

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/liquid"
	"github.com/danmuck/pipetctl/internal/reagents"
	"github.com/danmuck/pipetctl/internal/robot"
)

var ErrDeckLayout = errors.New("protocol: invalid deck layout")

// deck is the resolved labware and reagent state of one definition.
type deck struct {
	labware    *labware.Registry
	reagents   *reagents.Table
	partitions map[string]*reagents.Partition
	testReps   map[string]int
	samples    *labware.Labware
	tipRacks   []*labware.Labware
	magnet     *MagnetSpec
}

func buildDeck(def *Definition) (*deck, error) {
	dk := &deck{
		labware:    labware.NewRegistry(),
		reagents:   reagents.NewTable(def.Pipette.MaxVolume),
		partitions: make(map[string]*reagents.Partition),
		testReps:   make(map[string]int),
		magnet:     def.Magnet,
	}
	if def.Magnet != nil {
		if def.Magnet.Height <= 0 {
			return nil, fmt.Errorf("%w: magnet height %g", ErrDeckLayout, def.Magnet.Height)
		}
		if err := dk.labware.ReserveModule(def.Magnet.Slot); err != nil {
			return nil, err
		}
	}

	for _, spec := range def.Labware {
		lw, err := dk.labware.Load(spec.Label, spec.LoadName, spec.Slot)
		if err != nil {
			return nil, err
		}
		if spec.Role == RoleSamples {
			if dk.samples != nil {
				return nil, fmt.Errorf("%w: second sample plate %q", ErrDeckLayout, spec.Label)
			}
			dk.samples = lw
		}
		if (spec.Role == RoleTips || spec.Role == RoleWashTips) != lw.IsTipRack() {
			return nil, fmt.Errorf("%w: %q has role %s but is a %s", ErrDeckLayout, spec.Label, spec.Role, lw.Def.Kind)
		}
	}
	if dk.samples == nil {
		return nil, fmt.Errorf("%w: no sample plate", ErrDeckLayout)
	}
	if def.Magnet != nil && strings.TrimSpace(def.Magnet.Slot) != dk.samples.Slot {
		return nil, fmt.Errorf("%w: sample plate on slot %s, magnet on slot %s", ErrDeckLayout, dk.samples.Slot, def.Magnet.Slot)
	}

	for _, label := range def.Pipette.TipRacks {
		rack, err := dk.labware.TipRack(label)
		if err != nil {
			return nil, err
		}
		dk.tipRacks = append(dk.tipRacks, rack)
	}

	for _, spec := range def.Reagents {
		if err := dk.addReagent(spec); err != nil {
			return nil, err
		}
	}
	return dk, nil
}

func (dk *deck) addReagent(spec ReagentSpec) error {
	lw, err := dk.labware.Get(spec.Labware)
	if err != nil {
		return fmt.Errorf("reagent %s: %w", spec.Name, err)
	}
	if lw.IsTipRack() {
		return fmt.Errorf("%w: reagent %s on tip rack %q", ErrDeckLayout, spec.Name, lw.Label)
	}
	src, err := lw.Well(spec.Well)
	if err != nil {
		return fmt.Errorf("reagent %s: %w", spec.Name, err)
	}
	policy, err := robot.ParseTipPolicy(spec.TipPolicy)
	if err != nil {
		return fmt.Errorf("reagent %s: %w", spec.Name, err)
	}
	desc := reagents.Descriptor{
		Name:           spec.Name,
		Source:         src,
		TransferVolume: spec.TransferVolume,
		MixVolume:      spec.MixVolume,
		MixRepetitions: spec.MixRepetitions,
		TipPolicy:      policy,
		DrawHeight:     spec.DrawHeight,
	}
	if err := dk.reagents.Add(desc); err != nil {
		return err
	}
	if spec.TestMixRepetitions < 0 {
		return fmt.Errorf("%w: reagent %s: test mix repetitions %d", reagents.ErrInvalidReagent, spec.Name, spec.TestMixRepetitions)
	}
	dk.testReps[desc.Name] = spec.TestMixRepetitions
	if len(spec.Reservoirs) == 0 {
		return nil
	}
	wells := make([]labware.Well, 0, len(spec.Reservoirs))
	for _, name := range spec.Reservoirs {
		w, err := lw.Well(name)
		if err != nil {
			return fmt.Errorf("reagent %s: %w", spec.Name, err)
		}
		wells = append(wells, w)
	}
	part, err := reagents.NewPartition(wells, spec.GroupSize)
	if err != nil {
		return fmt.Errorf("reagent %s: %w", spec.Name, err)
	}
	dk.partitions[desc.Name] = part
	return nil
}

// sources maps samples onto a reagent's reservoirs, or its single well.
func (dk *deck) sources(desc reagents.Descriptor) liquid.SourceMap {
	if part, ok := dk.partitions[desc.Name]; ok {
		return liquid.FromPartition(part)
	}
	return liquid.Single(desc.Source)
}

// groups marks the first draw from each of a reagent's reservoirs.
func (dk *deck) groups(desc reagents.Descriptor) liquid.GroupStarts {
	if part, ok := dk.partitions[desc.Name]; ok {
		return liquid.PartitionGroups(part)
	}
	return liquid.FirstDraw
}

// reservoirsFor lists the distinct reservoirs a sample set draws from, in
// draw order.
func (dk *deck) reservoirsFor(desc reagents.Descriptor, samples []labware.Well) ([]labware.Well, error) {
	src := dk.sources(desc)
	seen := make(map[string]bool)
	var out []labware.Well
	for i, s := range samples {
		w, err := src(i, s)
		if err != nil {
			return nil, err
		}
		if seen[w.Name] {
			continue
		}
		seen[w.Name] = true
		out = append(out, w)
	}
	return out, nil
}

// Hardware is what a definition asks of the pipetting head.
type Hardware struct {
	Model       string
	Mount       string
	MaxVolume   float64
	TipCapacity float64
	TipRacks    int
}

// Hardware resolves the pipette and tip rack requirements of d.
func (d *Definition) Hardware() (Hardware, error) {
	dk, err := buildDeck(d)
	if err != nil {
		return Hardware{}, err
	}
	hw := Hardware{
		Model:       d.Pipette.Model,
		Mount:       d.Pipette.Mount,
		MaxVolume:   d.Pipette.MaxVolume,
		TipCapacity: math.Inf(1),
		TipRacks:    len(dk.tipRacks),
	}
	for _, rack := range dk.tipRacks {
		hw.TipCapacity = math.Min(hw.TipCapacity, rack.Def.Volume)
	}
	return hw, nil
}
