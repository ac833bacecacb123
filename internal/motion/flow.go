package motion

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/pipetctl/internal/robot"
)

var ErrRestoreFlowRate = errors.New("motion: flow rate restore failed")

// WithFlowRate sets rate on the head, runs fn, and restores the previous rate
// on every exit path. A restore failure is joined with fn's error.
func WithFlowRate(ctx context.Context, pip robot.Pipette, rate robot.FlowRate, fn func() error) (err error) {
	prev := pip.FlowRate()
	if err := pip.SetFlowRate(ctx, rate); err != nil {
		return err
	}
	defer func() {
		if rerr := pip.SetFlowRate(context.WithoutCancel(ctx), prev); rerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: %v", ErrRestoreFlowRate, rerr))
		}
	}()
	return fn()
}

// EnsureTip picks up a tip from the rack pool unless one is already held.
func EnsureTip(ctx context.Context, pip robot.Pipette) error {
	if pip.TipAttached() {
		return nil
	}
	return pip.PickUpTip(ctx)
}
