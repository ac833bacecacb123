package motion

import (
	"context"
	"math"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

const (
	blowAirVolume        = 190.0
	blowAirDispenseSpeed = 100.0
)

// Seconds per cycle: fixed overhead plus a per-column travel cost.
const (
	blowAirCycleBase      = 9.6
	blowAirCyclePerColumn = 4.2
)

// BlowAirRepetitions is how many full cycles over n wells fit in d.
func BlowAirRepetitions(d time.Duration, n int) int {
	if n <= 0 || d <= 0 {
		return 0
	}
	return int(d.Seconds() / (blowAirCycleBase + blowAirCyclePerColumn*float64(n)))
}

// BlowAirFlowRate slows the aspirate as the well count shrinks.
func BlowAirFlowRate(n int) robot.FlowRate {
	return robot.FlowRate{
		Aspirate: math.Min(float64(n)*19, 190),
		Dispense: blowAirDispenseSpeed,
	}
}

// BlowAir pushes air down onto drying pellets for roughly d. It is open
// loop: dryness is never measured. One tip serves the whole call and is
// dropped at the end.
func BlowAir(ctx context.Context, pip robot.Pipette, d time.Duration, wells []labware.Well) error {
	reps := BlowAirRepetitions(d, len(wells))
	log.Debug().Dur("duration", d).Int("wells", len(wells)).Int("repetitions", reps).Msg("blow air")
	if reps == 0 {
		return nil
	}
	err := WithFlowRate(ctx, pip, BlowAirFlowRate(len(wells)), func() error {
		if err := EnsureTip(ctx, pip); err != nil {
			return err
		}
		for r := 0; r < reps; r++ {
			for _, well := range wells {
				if err := pip.Aspirate(ctx, blowAirVolume, well.Top(15), 1); err != nil {
					return err
				}
				if err := pip.Dispense(ctx, blowAirVolume, well.Bottom(15), 1); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return pip.DropTip(ctx)
}
