package liquid

import (
	"errors"
	"fmt"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/reagents"
	"github.com/danmuck/pipetctl/internal/robot"
)

var (
	ErrNoSamples   = errors.New("liquid: no samples")
	ErrNoTipRack   = errors.New("liquid: dedicated tip rack required")
	ErrNoSourceMap = errors.New("liquid: source map required")
)

// AirGap is drawn after every aspirate that travels over other wells.
const AirGap = 10.0

// Handler binds the head, the run clock, and the trash.
type Handler struct {
	pip   robot.Pipette
	clock robot.Clock
	trash labware.Well
}

func NewHandler(pip robot.Pipette, clock robot.Clock, trash labware.Well) *Handler {
	return &Handler{pip: pip, clock: clock, trash: trash}
}

// SourceMap picks the well a sample at index draws from.
type SourceMap func(index int, sample labware.Well) (labware.Well, error)

// FromPartition draws by index from a reservoir partition.
func FromPartition(p *reagents.Partition) SourceMap {
	return func(index int, _ labware.Well) (labware.Well, error) {
		return p.SourceFor(index)
	}
}

// GroupStarts reports whether a sample index is the first draw from its
// reservoir.
type GroupStarts func(index int) bool

// PartitionGroups marks the first sample of each reservoir group of p.
func PartitionGroups(p *reagents.Partition) GroupStarts {
	return p.GroupStart
}

// FirstDraw treats the whole sample set as one group.
func FirstDraw(index int) bool {
	return index == 0
}

// MatchingColumn draws from the same column of plate as the sample.
func MatchingColumn(plate *labware.Labware) SourceMap {
	return func(_ int, sample labware.Well) (labware.Well, error) {
		return plate.Column(sample.Column)
	}
}

// Single draws every sample from one well.
func Single(src labware.Well) SourceMap {
	return func(int, labware.Well) (labware.Well, error) {
		return src, nil
	}
}

// WashTip maps a sample onto the tip at its column of a dedicated rack.
func WashTip(tips *labware.Labware, sample labware.Well) (labware.Well, error) {
	if tips == nil {
		return labware.Well{}, ErrNoTipRack
	}
	if !tips.IsTipRack() {
		return labware.Well{}, fmt.Errorf("%w: %q", labware.ErrNotTipRack, tips.Label)
	}
	return tips.Column(sample.Column)
}

func transferOptions(policy robot.TipPolicy, blowOut bool) robot.TransferOptions {
	return robot.TransferOptions{TipPolicy: policy, AirGap: AirGap, BlowOut: blowOut}
}
