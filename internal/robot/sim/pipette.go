package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
)

const tipsPerRack = 12

type pipette Platform

func tipKey(w labware.Well) string {
	return w.Labware + "/" + w.Name
}

func (pp *pipette) platform() *Platform {
	return (*Platform)(pp)
}

// PickUpTip takes the next unused column of tips from the rack pool.
func (pp *pipette) PickUpTip(ctx context.Context) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	return p.pickNextLocked()
}

// PickUpTipAt takes a specific tip, e.g. from a dedicated wash rack.
func (pp *pipette) PickUpTipAt(ctx context.Context, tip labware.Well) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	if p.held != nil {
		return fmt.Errorf("%w: holding %s", robot.ErrTipAlreadyHeld, p.held.well)
	}
	if tip.IsZero() {
		return fmt.Errorf("%w: empty tip location", labware.ErrInvalidWellName)
	}
	if p.used[tipKey(tip)] {
		return fmt.Errorf("%w: %s", ErrTipDiscarded, tip)
	}
	p.held = &heldTip{well: tip}
	p.contents = 0
	p.stats.TipPickUps++
	p.record(Command{Op: OpPickUpTip, Tip: tip})
	return nil
}

func (p *Platform) pickNextLocked() error {
	if p.held != nil {
		return fmt.Errorf("%w: holding %s", robot.ErrTipAlreadyHeld, p.held.well)
	}
	if p.nextTip >= p.cfg.TipRacks*tipsPerRack {
		return fmt.Errorf("%w: %d racks consumed", ErrOutOfTips, p.cfg.TipRacks)
	}
	rack := p.nextTip/tipsPerRack + 1
	col := p.nextTip%tipsPerRack + 1
	p.nextTip++
	tip := labware.Well{
		Labware: fmt.Sprintf("tiprack_%d", rack),
		Name:    labware.WellName('A', col),
		Row:     'A',
		Column:  col,
	}
	p.held = &heldTip{well: tip}
	p.contents = 0
	p.stats.TipPickUps++
	p.record(Command{Op: OpPickUpTip, Tip: tip})
	return nil
}

func (p *Platform) dropLocked() error {
	if p.held == nil {
		return robot.ErrNoTipAttached
	}
	tip := p.held.well
	p.used[tipKey(tip)] = true
	p.held = nil
	p.contents = 0
	p.stats.TipDrops++
	p.record(Command{Op: OpDropTip, Tip: tip})
	return nil
}

// DropTip discards the held tip into the trash.
func (pp *pipette) DropTip(ctx context.Context) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	return p.dropLocked()
}

// ReturnTip puts the held tip back into the slot it came from.
func (pp *pipette) ReturnTip(ctx context.Context) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	if p.held == nil {
		return robot.ErrNoTipAttached
	}
	tip := p.held.well
	p.held = nil
	p.contents = 0
	p.stats.TipReturns++
	p.record(Command{Op: OpReturnTip, Tip: tip})
	return nil
}

func (pp *pipette) TipAttached() bool {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held != nil
}

// HeldTip reports the tip currently on the head, if any.
func (p *Platform) HeldTip() (labware.Well, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held == nil {
		return labware.Well{}, false
	}
	return p.held.well, true
}

func (p *Platform) requireTip(op string) error {
	if p.held == nil {
		return fmt.Errorf("%w: %s", robot.ErrNoTipAttached, op)
	}
	return nil
}

func (p *Platform) rateOr1(rate float64) float64 {
	if rate <= 0 {
		return 1
	}
	return rate
}

func (pp *pipette) Aspirate(ctx context.Context, volume float64, loc labware.Location, rate float64) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	if err := p.requireTip(OpAspirate); err != nil {
		return err
	}
	if volume <= 0 {
		return fmt.Errorf("%w: aspirate %g", robot.ErrInvalidVolume, volume)
	}
	if p.contents+volume > p.capacity() {
		return fmt.Errorf("%w: %g + %g > %g", ErrOverCapacity, p.contents, volume, p.capacity())
	}
	rate = p.rateOr1(rate)
	p.contents += volume
	p.record(Command{Op: OpAspirate, Volume: volume, Location: loc, Rate: rate})
	p.advance(p.liquidTime(volume, p.flow.Aspirate*rate))
	return nil
}

// Dispense pushes volume out of the tip. Dispensing more than the tip holds
// expels air and empties it.
func (pp *pipette) Dispense(ctx context.Context, volume float64, loc labware.Location, rate float64) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	if err := p.requireTip(OpDispense); err != nil {
		return err
	}
	if volume <= 0 {
		return fmt.Errorf("%w: dispense %g", robot.ErrInvalidVolume, volume)
	}
	rate = p.rateOr1(rate)
	p.contents = math.Max(0, p.contents-volume)
	p.record(Command{Op: OpDispense, Volume: volume, Location: loc, Rate: rate})
	p.advance(p.liquidTime(volume, p.flow.Dispense*rate))
	return nil
}

func (pp *pipette) Mix(ctx context.Context, repetitions int, volume float64, loc labware.Location) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	if err := p.requireTip(OpMix); err != nil {
		return err
	}
	if repetitions < 0 || volume <= 0 {
		return fmt.Errorf("%w: mix %d x %g", robot.ErrInvalidVolume, repetitions, volume)
	}
	if p.contents+volume > p.capacity() {
		return fmt.Errorf("%w: mix %g with %g held", ErrOverCapacity, volume, p.contents)
	}
	p.record(Command{Op: OpMix, Repetitions: repetitions, Volume: volume, Location: loc})
	cycle := p.liquidTime(volume, p.flow.Aspirate) + p.liquidTime(volume, p.flow.Dispense)
	p.advance(time.Duration(repetitions) * cycle)
	return nil
}

func (pp *pipette) BlowOut(ctx context.Context, loc labware.Location) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	if err := p.requireTip(OpBlowOut); err != nil {
		return err
	}
	p.contents = 0
	p.record(Command{Op: OpBlowOut, Location: loc})
	return nil
}

// Transfer moves volume from src to dst, splitting it into as many trips as
// one tip load allows after the air gap.
func (pp *pipette) Transfer(ctx context.Context, volume float64, src, dst labware.Location, opts robot.TransferOptions) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	if volume <= 0 {
		return fmt.Errorf("%w: transfer %g", robot.ErrInvalidVolume, volume)
	}
	if opts.AirGap < 0 {
		return fmt.Errorf("%w: air gap %g", robot.ErrInvalidVolume, opts.AirGap)
	}
	policy, err := robot.ParseTipPolicy(string(opts.TipPolicy))
	if err != nil {
		return err
	}
	opts.TipPolicy = policy

	if policy == robot.TipNever {
		if err := p.requireTip(OpTransfer); err != nil {
			return err
		}
	} else if p.held != nil {
		if err := p.dropLocked(); err != nil {
			return err
		}
	}

	perTrip := p.capacity() - opts.AirGap
	if policy == robot.TipNever {
		perTrip -= p.contents
	}
	if perTrip <= 0 {
		return fmt.Errorf("%w: no room for %g with air gap %g", ErrOverCapacity, volume, opts.AirGap)
	}
	trips := int(math.Ceil(volume/perTrip - 1e-9))
	each := volume / float64(trips)

	if policy == robot.TipOnce {
		if err := p.pickNextLocked(); err != nil {
			return err
		}
	}
	for i := 0; i < trips; i++ {
		if policy == robot.TipAlways {
			if err := p.pickNextLocked(); err != nil {
				return err
			}
		}
		p.record(Command{Op: OpTransfer, Volume: each, Location: src, Dest: dst, Options: opts, Trips: trips})
		p.advance(p.liquidTime(each, p.flow.Aspirate) + p.liquidTime(each+opts.AirGap, p.flow.Dispense))
		if opts.BlowOut {
			p.contents = 0
		}
		if policy == robot.TipAlways {
			if err := p.dropLocked(); err != nil {
				return err
			}
		}
	}
	if policy == robot.TipOnce {
		if err := p.dropLocked(); err != nil {
			return err
		}
	}
	p.stats.Transfers++
	return nil
}

func (pp *pipette) MoveTo(ctx context.Context, loc labware.Location, strategy robot.MoveStrategy) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	if strategy == "" {
		strategy = robot.MoveArc
	}
	p.record(Command{Op: OpMoveTo, Location: loc, Strategy: strategy})
	return nil
}

func (pp *pipette) SetFlowRate(ctx context.Context, rate robot.FlowRate) error {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rate.Validate(); err != nil {
		return err
	}
	p.flow = rate
	p.record(Command{Op: OpSetFlowRate, FlowRate: rate})
	return nil
}

func (pp *pipette) FlowRate() robot.FlowRate {
	p := pp.platform()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flow
}

func (pp *pipette) MaxVolume() float64 {
	return pp.platform().cfg.MaxVolume
}
