package robot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
)

var (
	ErrNoTipAttached    = errors.New("robot: no tip attached")
	ErrTipAlreadyHeld   = errors.New("robot: tip already attached")
	ErrInvalidTipPolicy = errors.New("robot: invalid tip policy")
	ErrInvalidVolume    = errors.New("robot: invalid volume")
	ErrInvalidFlowRate  = errors.New("robot: invalid flow rate")
)

// TipPolicy controls how a Transfer treats pipette tips.
type TipPolicy string

const (
	// TipNever reuses the held tip and leaves it attached.
	TipNever TipPolicy = "never"
	// TipAlways takes a fresh tip for every trip and discards it.
	TipAlways TipPolicy = "always"
	// TipOnce takes one fresh tip for the whole transfer and discards it.
	TipOnce TipPolicy = "once"
)

// ParseTipPolicy accepts the policy names used in protocol definitions.
func ParseTipPolicy(raw string) (TipPolicy, error) {
	switch TipPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case TipNever, "":
		return TipNever, nil
	case TipAlways:
		return TipAlways, nil
	case TipOnce:
		return TipOnce, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTipPolicy, raw)
	}
}

// FlowRate is the plunger speed in µl/s.
type FlowRate struct {
	Aspirate float64 `json:"aspirate"`
	Dispense float64 `json:"dispense"`
}

// Validate rejects non-positive rates.
func (f FlowRate) Validate() error {
	if f.Aspirate <= 0 || f.Dispense <= 0 {
		return fmt.Errorf("%w: aspirate=%g dispense=%g", ErrInvalidFlowRate, f.Aspirate, f.Dispense)
	}
	return nil
}

func (f FlowRate) String() string {
	return fmt.Sprintf("%g/%g", f.Aspirate, f.Dispense)
}

// DefaultFlowRate is the resting flow rate every run starts with.
var DefaultFlowRate = FlowRate{Aspirate: 150, Dispense: 150}

// MoveStrategy selects the gantry path to a location.
type MoveStrategy string

const (
	MoveArc    MoveStrategy = "arc"
	MoveDirect MoveStrategy = "direct"
)

// TransferOptions tune one Transfer call.
type TransferOptions struct {
	TipPolicy TipPolicy `json:"tip_policy"`
	AirGap    float64   `json:"air_gap,omitempty"`
	BlowOut   bool      `json:"blow_out,omitempty"`
}

// Pipette is the pipetting-head capability set.
//
// Flow rate is process-wide state on the head. Routines that change it
// restore it before returning.
type Pipette interface {
	PickUpTip(ctx context.Context) error
	PickUpTipAt(ctx context.Context, tip labware.Well) error
	DropTip(ctx context.Context) error
	ReturnTip(ctx context.Context) error
	TipAttached() bool

	Aspirate(ctx context.Context, volume float64, loc labware.Location, rate float64) error
	Dispense(ctx context.Context, volume float64, loc labware.Location, rate float64) error
	Mix(ctx context.Context, repetitions int, volume float64, loc labware.Location) error
	BlowOut(ctx context.Context, loc labware.Location) error
	Transfer(ctx context.Context, volume float64, src, dst labware.Location, opts TransferOptions) error
	MoveTo(ctx context.Context, loc labware.Location, strategy MoveStrategy) error

	SetFlowRate(ctx context.Context, rate FlowRate) error
	FlowRate() FlowRate
	MaxVolume() float64
}

// MagnetStatus mirrors the magnetic module state query.
type MagnetStatus struct {
	Engaged bool    `json:"engaged"`
	Height  float64 `json:"height"`
}

func (s MagnetStatus) String() string {
	if !s.Engaged {
		return "disengaged"
	}
	return fmt.Sprintf("engaged(%g)", s.Height)
}

// MagneticModule immobilizes beads under the sample plate.
type MagneticModule interface {
	Engage(ctx context.Context, height float64) error
	Disengage(ctx context.Context) error
	Status() MagnetStatus
}

// Clock blocks the whole run for a fixed duration.
type Clock interface {
	Delay(ctx context.Context, d time.Duration) error
}

// Platform aggregates everything a protocol run drives.
type Platform interface {
	Clock
	Pipette() Pipette
	Magnet() MagneticModule
	Home(ctx context.Context) error
	Comment(ctx context.Context, msg string) error
	Pause(ctx context.Context, msg string) error
}
