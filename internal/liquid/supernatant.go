package liquid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/motion"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

var ErrInvalidPurge = errors.New("liquid: invalid purge")

const (
	// cushionMaxVolume is the largest removal that still fits an air
	// cushion in one tip load.
	cushionMaxVolume = 190.0
	cushionVolume    = 10.0
)

// Purge pushes out the bubble a blown-out transfer leaves in the tip. It
// works in place: an optional draw, then each dispense with Pause between
// them. Settle also pauses before the first and after the last dispense.
// A zero FlowRate keeps the head's current rate.
type Purge struct {
	Draw     float64
	Dispense []float64
	Pause    time.Duration
	Settle   bool
	FlowRate robot.FlowRate
}

// SupernatantPurge is the purge after a supernatant removal.
var SupernatantPurge = Purge{Dispense: []float64{10}, Pause: time.Second, Settle: true}

func (p Purge) Validate() error {
	if p.Draw < 0 || p.Pause < 0 {
		return fmt.Errorf("%w: draw %g pause %s", ErrInvalidPurge, p.Draw, p.Pause)
	}
	if len(p.Dispense) == 0 {
		return fmt.Errorf("%w: nothing to dispense", ErrInvalidPurge)
	}
	for _, v := range p.Dispense {
		if v <= 0 {
			return fmt.Errorf("%w: dispense %g", ErrInvalidPurge, v)
		}
	}
	if p.FlowRate != (robot.FlowRate{}) {
		return p.FlowRate.Validate()
	}
	return nil
}

func (h *Handler) purge(ctx context.Context, p Purge) error {
	run := func() error {
		here := labware.Location{}
		if p.Draw > 0 {
			if err := h.pip.Aspirate(ctx, p.Draw, here, 1); err != nil {
				return err
			}
		}
		for i, v := range p.Dispense {
			if (i > 0 || p.Settle) && p.Pause > 0 {
				if err := h.clock.Delay(ctx, p.Pause); err != nil {
					return err
				}
			}
			if err := h.pip.Dispense(ctx, v, here, 1); err != nil {
				return err
			}
		}
		if p.Settle && p.Pause > 0 {
			return h.clock.Delay(ctx, p.Pause)
		}
		return nil
	}
	if p.FlowRate == (robot.FlowRate{}) {
		return run()
	}
	return motion.WithFlowRate(ctx, h.pip, p.FlowRate, run)
}

// Supernatant is one removal from above the pellet into the trash.
type Supernatant struct {
	Volume float64
	// Height is mm above each sample's floor.
	Height float64
	// NoCushion skips the air cushion small removals otherwise get.
	NoCushion bool
	// Purge replaces SupernatantPurge when set.
	Purge *Purge
}

// TrashSupernatant removes the supernatant of each sample into the trash.
// Each sample gets its own tip, and the tip is purged of stray air before it
// is discarded.
func (h *Handler) TrashSupernatant(ctx context.Context, sup Supernatant, samples []labware.Well) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}
	purge := SupernatantPurge
	if sup.Purge != nil {
		purge = *sup.Purge
	}
	if err := purge.Validate(); err != nil {
		return err
	}
	for _, s := range samples {
		log.Debug().Str("well", s.String()).Float64("volume", sup.Volume).Float64("height", sup.Height).Msg("trash supernatant")
		if err := h.pip.PickUpTip(ctx); err != nil {
			return err
		}
		if !sup.NoCushion && sup.Volume <= cushionMaxVolume {
			if err := h.pip.Aspirate(ctx, cushionVolume, s.Top(10), 1); err != nil {
				return err
			}
		}
		opts := transferOptions(robot.TipNever, true)
		if err := h.pip.Transfer(ctx, sup.Volume, s.Bottom(sup.Height), h.trash.Top(5), opts); err != nil {
			return fmt.Errorf("trash supernatant from %s: %w", s.Name, err)
		}
		if err := h.purge(ctx, purge); err != nil {
			return err
		}
		if err := h.pip.DropTip(ctx); err != nil {
			return err
		}
	}
	return nil
}
