package motion

import (
	"context"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

var MixWellsFlowRate = robot.FlowRate{Aspirate: 300, Dispense: 550}

const (
	mixLadderTop    = 20.0
	mixLadderBottom = 4.0
	mixLadderStep   = 2.0
	mixDraw         = 200.0
)

// MixLadder lists the aspirate heights of one MixWells round, top first.
func MixLadder() []float64 {
	var out []float64
	for d := mixLadderTop; d >= mixLadderBottom; d -= mixLadderStep {
		out = append(out, d)
	}
	return out
}

// MixWells breaks up foam and clumps by aspirating at each ladder height and
// blowing out alternately at that height and just below the rim.
func MixWells(ctx context.Context, pip robot.Pipette, wells []labware.Well, repetitions int) error {
	ladder := MixLadder()
	return WithFlowRate(ctx, pip, MixWellsFlowRate, func() error {
		for _, well := range wells {
			log.Debug().Str("well", well.String()).Int("repetitions", repetitions).Msg("mix wells")
			if err := EnsureTip(ctx, pip); err != nil {
				return err
			}
			if err := pip.MoveTo(ctx, well.Top(20), robot.MoveArc); err != nil {
				return err
			}
			for r := 0; r < repetitions; r++ {
				for _, depth := range ladder {
					if err := pip.Aspirate(ctx, mixDraw, well.Bottom(depth), 1); err != nil {
						return err
					}
					if err := pip.BlowOut(ctx, well.Bottom(depth)); err != nil {
						return err
					}
					if err := pip.Aspirate(ctx, mixDraw, well.Bottom(depth), 1); err != nil {
						return err
					}
					if err := pip.BlowOut(ctx, well.Top(-2)); err != nil {
						return err
					}
				}
			}
			if err := pip.MoveTo(ctx, well.Top(20), robot.MoveArc); err != nil {
				return err
			}
		}
		return nil
	})
}
