package observability

import (
	"context"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/danmuck/pipetctl/internal/robot"
)

// Metered wraps a platform and records every blocking command.
func Metered(platform robot.Platform) robot.Platform {
	return &meteredPlatform{
		Platform: platform,
		pipette:  &meteredPipette{Pipette: platform.Pipette()},
		magnet:   &meteredMagnet{MagneticModule: platform.Magnet()},
	}
}

// StepObserver counts sequencer steps for protocolID and forwards each
// event to next when set.
func StepObserver(protocolID string, next protocol.Observer) protocol.Observer {
	return func(ev protocol.Event) {
		RecordStep(protocolID, string(ev.Kind), string(ev.Phase), ev.Skipped)
		if next != nil {
			next(ev)
		}
	}
}

func timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	RecordCommand(op, time.Since(start), err)
	return err
}

type meteredPlatform struct {
	robot.Platform
	pipette *meteredPipette
	magnet  *meteredMagnet
}

func (m *meteredPlatform) Pipette() robot.Pipette { return m.pipette }
func (m *meteredPlatform) Magnet() robot.MagneticModule { return m.magnet }

func (m *meteredPlatform) Home(ctx context.Context) error {
	return timed("home", func() error { return m.Platform.Home(ctx) })
}

func (m *meteredPlatform) Comment(ctx context.Context, msg string) error {
	return timed("comment", func() error { return m.Platform.Comment(ctx, msg) })
}

func (m *meteredPlatform) Pause(ctx context.Context, msg string) error {
	return timed("pause", func() error { return m.Platform.Pause(ctx, msg) })
}

func (m *meteredPlatform) Delay(ctx context.Context, d time.Duration) error {
	return timed("delay", func() error { return m.Platform.Delay(ctx, d) })
}

type meteredMagnet struct {
	robot.MagneticModule
}

func (m *meteredMagnet) Engage(ctx context.Context, height float64) error {
	return timed("engage", func() error { return m.MagneticModule.Engage(ctx, height) })
}

func (m *meteredMagnet) Disengage(ctx context.Context) error {
	return timed("disengage", func() error { return m.MagneticModule.Disengage(ctx) })
}

type meteredPipette struct {
	robot.Pipette
}

func (p *meteredPipette) PickUpTip(ctx context.Context) error {
	return timed("pick_up_tip", func() error { return p.Pipette.PickUpTip(ctx) })
}

func (p *meteredPipette) PickUpTipAt(ctx context.Context, tip labware.Well) error {
	return timed("pick_up_tip", func() error { return p.Pipette.PickUpTipAt(ctx, tip) })
}

func (p *meteredPipette) DropTip(ctx context.Context) error {
	return timed("drop_tip", func() error { return p.Pipette.DropTip(ctx) })
}

func (p *meteredPipette) ReturnTip(ctx context.Context) error {
	return timed("return_tip", func() error { return p.Pipette.ReturnTip(ctx) })
}

func (p *meteredPipette) Aspirate(ctx context.Context, volume float64, loc labware.Location, rate float64) error {
	return p.liquid("aspirate", volume, func() error { return p.Pipette.Aspirate(ctx, volume, loc, rate) })
}

func (p *meteredPipette) Dispense(ctx context.Context, volume float64, loc labware.Location, rate float64) error {
	return p.liquid("dispense", volume, func() error { return p.Pipette.Dispense(ctx, volume, loc, rate) })
}

func (p *meteredPipette) Mix(ctx context.Context, repetitions int, volume float64, loc labware.Location) error {
	return timed("mix", func() error { return p.Pipette.Mix(ctx, repetitions, volume, loc) })
}

func (p *meteredPipette) BlowOut(ctx context.Context, loc labware.Location) error {
	return timed("blow_out", func() error { return p.Pipette.BlowOut(ctx, loc) })
}

func (p *meteredPipette) Transfer(ctx context.Context, volume float64, src, dst labware.Location, opts robot.TransferOptions) error {
	return p.liquid("transfer", volume, func() error { return p.Pipette.Transfer(ctx, volume, src, dst, opts) })
}

func (p *meteredPipette) MoveTo(ctx context.Context, loc labware.Location, strategy robot.MoveStrategy) error {
	return timed("move_to", func() error { return p.Pipette.MoveTo(ctx, loc, strategy) })
}

func (p *meteredPipette) liquid(op string, volume float64, fn func() error) error {
	err := timed(op, fn)
	if err == nil {
		recordVolume(op, volume)
	}
	return err
}
