package liquid

import (
	"context"
	"fmt"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/motion"
	"github.com/danmuck/pipetctl/internal/reagents"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

var (
	MixFlowRate    = robot.FlowRate{Aspirate: 200, Dispense: 200}
	EluateFlowRate = robot.FlowRate{Aspirate: 30, Dispense: 30}
)

const (
	// mixCushionCeiling is the tip load the mix air cushion tops up to.
	mixCushionCeiling = 200.0
	sampleDispenseZ   = -10.0
	mixHeight         = 1.0
	eluateSourceZ     = 0.3
)

// acquireForTransfer holds a tip going into a transfer that reuses it.
func (h *Handler) acquireForTransfer(ctx context.Context, policy robot.TipPolicy) error {
	if policy != robot.TipNever {
		return nil
	}
	return motion.EnsureTip(ctx, h.pip)
}

// TransferAndMix adds reagent to every sample, mixes it in under an air
// cushion, and discards the tip before the next sample.
func (h *Handler) TransferAndMix(ctx context.Context, reagent reagents.Descriptor, samples []labware.Well) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}
	for _, s := range samples {
		log.Debug().Str("reagent", reagent.Name).Str("well", s.String()).Msg("transfer and mix")
		if err := h.acquireForTransfer(ctx, reagent.TipPolicy); err != nil {
			return err
		}
		opts := transferOptions(reagent.TipPolicy, false)
		if err := h.pip.Transfer(ctx, reagent.TransferVolume, reagent.Draw(), s.Top(sampleDispenseZ), opts); err != nil {
			return fmt.Errorf("transfer %s to %s: %w", reagent.Name, s.Name, err)
		}
		if err := motion.EnsureTip(ctx, h.pip); err != nil {
			return err
		}
		err := motion.WithFlowRate(ctx, h.pip, MixFlowRate, func() error {
			cushion := mixCushionCeiling - reagent.MixVolume
			if cushion > 0 {
				if err := h.pip.Aspirate(ctx, cushion, s.Top(10), 1); err != nil {
					return err
				}
			}
			if err := h.pip.Mix(ctx, reagent.MixRepetitions, reagent.MixVolume, s.Bottom(mixHeight)); err != nil {
				return err
			}
			if cushion > 0 {
				if err := h.pip.Dispense(ctx, cushion, s.Top(10), 1); err != nil {
					return err
				}
			}
			return h.pip.BlowOut(ctx, labware.Location{})
		})
		if err != nil {
			return err
		}
		if err := h.pip.DropTip(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Resuspension configures the reservoir handling of a split-reagent
// transfer.
type Resuspension struct {
	Sources SourceMap
	// GroupStarts marks the first draw from each reservoir. Nil treats the
	// whole run as one group.
	GroupStarts GroupStarts
	Cadence     Cadence
	// BlowOutInPlace blows out where the mix ends instead of 2 mm below the
	// sample rim.
	BlowOutInPlace bool
}

// TransferAndMixWithResuspension draws each sample's share from the
// reservoir its index maps to, resuspending the reservoir first when the
// cadence calls for it.
func (h *Handler) TransferAndMixWithResuspension(ctx context.Context, reagent reagents.Descriptor, rs Resuspension, samples []labware.Well) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}
	if rs.Sources == nil {
		return ErrNoSourceMap
	}
	if err := rs.Cadence.Sweep.Validate(); err != nil {
		return err
	}
	groups := rs.GroupStarts
	if groups == nil {
		groups = FirstDraw
	}
	for i, s := range samples {
		src, err := rs.Sources(i, s)
		if err != nil {
			return err
		}
		log.Debug().Str("reagent", reagent.Name).Str("well", s.String()).Str("source", src.Name).Msg("transfer with resuspension")
		if err := motion.EnsureTip(ctx, h.pip); err != nil {
			return err
		}
		if intensity, ok := rs.Cadence.For(i, groups(i)); ok {
			if err := rs.Cadence.Sweep.Resuspend(ctx, h.pip, src, intensity); err != nil {
				return err
			}
		}
		opts := transferOptions(reagent.TipPolicy, false)
		if err := h.pip.Transfer(ctx, reagent.TransferVolume, reagent.DrawFrom(src), s.Top(sampleDispenseZ), opts); err != nil {
			return fmt.Errorf("transfer %s to %s: %w", reagent.Name, s.Name, err)
		}
		if err := motion.EnsureTip(ctx, h.pip); err != nil {
			return err
		}
		blowOut := s.Top(-2)
		if rs.BlowOutInPlace {
			blowOut = labware.Location{}
		}
		err = motion.WithFlowRate(ctx, h.pip, MixFlowRate, func() error {
			if err := h.pip.Mix(ctx, reagent.MixRepetitions, reagent.MixVolume, s.Bottom(mixHeight)); err != nil {
				return err
			}
			return h.pip.BlowOut(ctx, blowOut)
		})
		if err != nil {
			return err
		}
		if err := h.pip.DropTip(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TransferEluate moves volume from each sample to the same column of dest
// slowly, with a fresh tip per trip. It draws from height mm above the
// sample floor; zero draws from 0.3 mm.
func (h *Handler) TransferEluate(ctx context.Context, volume, height float64, samples []labware.Well, dest *labware.Labware) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}
	if height == 0 {
		height = eluateSourceZ
	}
	return motion.WithFlowRate(ctx, h.pip, EluateFlowRate, func() error {
		for _, s := range samples {
			out, err := dest.Column(s.Column)
			if err != nil {
				return err
			}
			log.Debug().Str("well", s.String()).Str("dest", out.String()).Float64("height", height).Msg("transfer eluate")
			opts := transferOptions(robot.TipAlways, true)
			if err := h.pip.Transfer(ctx, volume, s.Bottom(height), out.Bottom(0.5), opts); err != nil {
				return fmt.Errorf("transfer eluate from %s: %w", s.Name, err)
			}
		}
		return nil
	})
}
