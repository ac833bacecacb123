package liquid

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/motion"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

var (
	WashMixFlowRate   = robot.FlowRate{Aspirate: 200, Dispense: 250}
	WashPurgeFlowRate = robot.FlowRate{Aspirate: 20, Dispense: 150}
)

const (
	washMixVolume      = 100.0
	washTrashOffset    = 10.0
	defaultWashSourceZ = 2.0
)

// WashPurge is the purge after each wash removal transfer.
var WashPurge = Purge{
	Draw:     40,
	Dispense: []float64{20, 20},
	Pause:    2 * time.Second,
	FlowRate: WashPurgeFlowRate,
}

// WashAdd adds wash liquid to each sample with the sample's dedicated tip.
type WashAdd struct {
	Samples []labware.Well
	Tips    *labware.Labware
	Source  SourceMap
	// SourceHeight is mm above the source floor; zero draws from 2 mm.
	SourceHeight   float64
	Volume         float64
	MixRepetitions int
	// FlowRate for the mix; zero uses WashMixFlowRate.
	FlowRate robot.FlowRate
}

// WashRemove takes the wash back out of each sample with the same tips.
type WashRemove struct {
	Samples []labware.Well
	Tips    *labware.Labware
	Volume  float64
	// Splits, when set, removes in these transfers instead of one of Volume.
	Splits []float64
	Height float64
	// TrashOffset is mm above the trash rim; zero uses 10.
	TrashOffset float64
	// Purge replaces WashPurge when set. It follows every transfer.
	Purge *Purge
}

func (w WashRemove) transfers() []float64 {
	if len(w.Splits) > 0 {
		return w.Splits
	}
	return []float64{w.Volume}
}

// AddWash transfers the wash into each sample, mixes it under a 100 µl air
// cushion, and returns the tip to its slot.
func (h *Handler) AddWash(ctx context.Context, w WashAdd) error {
	if len(w.Samples) == 0 {
		return ErrNoSamples
	}
	if w.Source == nil {
		return ErrNoSourceMap
	}
	srcZ := w.SourceHeight
	if srcZ == 0 {
		srcZ = defaultWashSourceZ
	}
	rate := w.FlowRate
	if rate == (robot.FlowRate{}) {
		rate = WashMixFlowRate
	}
	for i, s := range w.Samples {
		tip, err := WashTip(w.Tips, s)
		if err != nil {
			return err
		}
		src, err := w.Source(i, s)
		if err != nil {
			return err
		}
		log.Debug().Str("well", s.String()).Str("tip", tip.Name).Str("source", src.String()).Msg("add wash")
		if err := h.pip.PickUpTipAt(ctx, tip); err != nil {
			return err
		}
		opts := transferOptions(robot.TipNever, false)
		if err := h.pip.Transfer(ctx, w.Volume, src.Bottom(srcZ), s.Top(sampleDispenseZ), opts); err != nil {
			return fmt.Errorf("add wash to %s: %w", s.Name, err)
		}
		err = motion.WithFlowRate(ctx, h.pip, rate, func() error {
			if err := h.pip.Aspirate(ctx, washMixVolume, s.Top(20), 1); err != nil {
				return err
			}
			if err := h.pip.Mix(ctx, w.MixRepetitions, washMixVolume, s.Bottom(mixHeight)); err != nil {
				return err
			}
			return h.pip.Dispense(ctx, washMixVolume, s.Top(-20), 1)
		})
		if err != nil {
			return err
		}
		if err := h.pip.ReturnTip(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RemoveWash sends the wash to the trash, purges residual bubbles from the
// tip after each transfer, and returns the tip to its slot.
func (h *Handler) RemoveWash(ctx context.Context, w WashRemove) error {
	if len(w.Samples) == 0 {
		return ErrNoSamples
	}
	offset := w.TrashOffset
	if offset == 0 {
		offset = washTrashOffset
	}
	purge := WashPurge
	if w.Purge != nil {
		purge = *w.Purge
	}
	if err := purge.Validate(); err != nil {
		return err
	}
	for _, s := range w.Samples {
		tip, err := WashTip(w.Tips, s)
		if err != nil {
			return err
		}
		log.Debug().Str("well", s.String()).Str("tip", tip.Name).Float64("height", w.Height).Msg("remove wash")
		if err := h.pip.PickUpTipAt(ctx, tip); err != nil {
			return err
		}
		for _, volume := range w.transfers() {
			opts := transferOptions(robot.TipNever, true)
			if err := h.pip.Transfer(ctx, volume, s.Bottom(w.Height), h.trash.Top(offset), opts); err != nil {
				return fmt.Errorf("remove wash from %s: %w", s.Name, err)
			}
			if err := h.purge(ctx, purge); err != nil {
				return err
			}
		}
		if err := h.pip.ReturnTip(ctx); err != nil {
			return err
		}
	}
	return nil
}
