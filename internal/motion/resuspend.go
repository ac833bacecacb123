package motion

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

// Intensity selects the depth sweep of a resuspension.
type Intensity int

const (
	Full Intensity = iota
	Lite
)

func (i Intensity) String() string {
	switch i {
	case Full:
		return "full"
	case Lite:
		return "lite"
	default:
		return fmt.Sprintf("intensity(%d)", int(i))
	}
}

// Depths are the mix heights in mm above the well floor, deepest last.
func (i Intensity) Depths() []float64 {
	if i == Lite {
		return []float64{0.8, 0.6}
	}
	return []float64{1.2, 1.0, 0.8, 0.6}
}

// Sweep is the default pass for the intensity.
func (i Intensity) Sweep() Sweep {
	return Sweep{Depths: i.Depths()}
}

var ErrInvalidSweep = errors.New("motion: invalid sweep")

// Sweep is one resuspension pass over a well.
type Sweep struct {
	Depths []float64
	// MixOnly mixes at each depth without the surface draw around it.
	MixOnly bool
}

// Profile overrides the default passes for a protocol. Empty depth lists
// keep the intensity defaults.
type Profile struct {
	Full    []float64 `toml:"full" json:"full,omitempty"`
	Lite    []float64 `toml:"lite" json:"lite,omitempty"`
	MixOnly bool      `toml:"mix_only" json:"mix_only,omitempty"`
}

// Sweep resolves the pass for intensity.
func (p Profile) Sweep(intensity Intensity) Sweep {
	depths := intensity.Depths()
	switch {
	case intensity == Full && len(p.Full) > 0:
		depths = append([]float64(nil), p.Full...)
	case intensity == Lite && len(p.Lite) > 0:
		depths = append([]float64(nil), p.Lite...)
	}
	return Sweep{Depths: depths, MixOnly: p.MixOnly}
}

// IsZero reports whether the profile keeps every default.
func (p Profile) IsZero() bool {
	return len(p.Full) == 0 && len(p.Lite) == 0 && !p.MixOnly
}

// Resuspend runs the profile's pass for intensity over well.
func (p Profile) Resuspend(ctx context.Context, pip robot.Pipette, well labware.Well, intensity Intensity) error {
	switch {
	case !p.IsZero():
		return ResuspendSweep(ctx, pip, well, p.Sweep(intensity))
	case intensity == Lite:
		return ResuspendLite(ctx, pip, well)
	default:
		return Resuspend(ctx, pip, well, intensity)
	}
}

func (p Profile) Validate() error {
	for _, d := range append(append([]float64(nil), p.Full...), p.Lite...) {
		if d < 0 {
			return fmt.Errorf("%w: depth %g", ErrInvalidSweep, d)
		}
	}
	return nil
}

var ResuspendFlowRate = robot.FlowRate{Aspirate: 150, Dispense: 150}

const (
	resuspendDraw       = 150.0
	resuspendMixVolume  = 50.0
	resuspendMixRepeats = 5
)

// Resuspend draws settled beads back into suspension in well with the
// default pass for intensity.
func Resuspend(ctx context.Context, pip robot.Pipette, well labware.Well, intensity Intensity) error {
	return ResuspendSweep(ctx, pip, well, intensity.Sweep())
}

// ResuspendSweep mixes at each depth of sweep in order. Unless the sweep is
// mix-only, each mix is bracketed by a draw from near the surface and its
// return.
func ResuspendSweep(ctx context.Context, pip robot.Pipette, well labware.Well, sweep Sweep) error {
	if len(sweep.Depths) == 0 {
		return fmt.Errorf("%w: no depths", ErrInvalidSweep)
	}
	log.Debug().Str("well", well.String()).Floats64("depths", sweep.Depths).Bool("mix_only", sweep.MixOnly).Msg("resuspend")
	return WithFlowRate(ctx, pip, ResuspendFlowRate, func() error {
		if err := EnsureTip(ctx, pip); err != nil {
			return err
		}
		if err := pip.MoveTo(ctx, well.Top(10), robot.MoveArc); err != nil {
			return err
		}
		for _, depth := range sweep.Depths {
			if !sweep.MixOnly {
				if err := pip.Aspirate(ctx, resuspendDraw, well.Top(-5), 1); err != nil {
					return err
				}
			}
			if err := pip.Mix(ctx, resuspendMixRepeats, resuspendMixVolume, well.Bottom(depth)); err != nil {
				return err
			}
			if !sweep.MixOnly {
				if err := pip.Dispense(ctx, resuspendDraw, well.Top(-5), 1); err != nil {
					return err
				}
			}
		}
		return pip.MoveTo(ctx, well.Top(20), robot.MoveArc)
	})
}

// ResuspendLite is the narrow touch-up sweep.
func ResuspendLite(ctx context.Context, pip robot.Pipette, well labware.Well) error {
	return Resuspend(ctx, pip, well, Lite)
}
