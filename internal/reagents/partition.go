package reagents

import (
	"errors"
	"fmt"

	"github.com/danmuck/pipetctl/internal/labware"
)

var (
	ErrInvalidPartition = errors.New("reagents: invalid partition")
	ErrIndexOutOfRange  = errors.New("reagents: sample index outside partition")
)

// Partition maps sample indexes onto equal reservoirs in consecutive groups.
// It is built once and looked up by index.
type Partition struct {
	groupSize int
	sources   []labware.Well
}

// NewPartition assigns groupSize consecutive samples to each source in order.
func NewPartition(sources []labware.Well, groupSize int) (*Partition, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no reservoirs", ErrInvalidPartition)
	}
	if groupSize < 1 {
		return nil, fmt.Errorf("%w: group size %d", ErrInvalidPartition, groupSize)
	}
	for i, src := range sources {
		if src.IsZero() {
			return nil, fmt.Errorf("%w: reservoir %d unset", ErrInvalidPartition, i)
		}
	}
	return &Partition{groupSize: groupSize, sources: append([]labware.Well(nil), sources...)}, nil
}

// Capacity is the number of samples the partition can serve.
func (p *Partition) Capacity() int {
	return len(p.sources) * p.groupSize
}

// SourceFor returns the reservoir for a zero-based sample index.
func (p *Partition) SourceFor(index int) (labware.Well, error) {
	if index < 0 || index >= p.Capacity() {
		return labware.Well{}, fmt.Errorf("%w: %d (capacity %d)", ErrIndexOutOfRange, index, p.Capacity())
	}
	return p.sources[index/p.groupSize], nil
}

// GroupStart reports whether index is the first draw from its reservoir.
func (p *Partition) GroupStart(index int) bool {
	return index >= 0 && index%p.groupSize == 0
}
