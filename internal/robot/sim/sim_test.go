package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/danmuck/pipetctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func homed(t *testing.T, cfg Config) *Platform {
	t.Helper()
	p := New(cfg)
	if err := p.Home(context.Background()); err != nil {
		t.Fatalf("home: %v", err)
	}
	return p
}

func testPlate(t *testing.T) *labware.Labware {
	t.Helper()
	reg := labware.NewRegistry()
	lw, err := reg.Load("samples", "axygen_96_wellplate_400ul", "1")
	if err != nil {
		t.Fatalf("load plate: %v", err)
	}
	return lw
}

func TestMotionRequiresHome(t *testing.T) {
	testlog.Start(t)
	p := New(DefaultConfig())
	err := p.Pipette().PickUpTip(context.Background())
	if !errors.Is(err, ErrNotHomed) {
		t.Fatalf("expected ErrNotHomed, got %v", err)
	}
}

func TestTipStateErrors(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	p := homed(t, DefaultConfig())
	pip := p.Pipette()

	if err := pip.DropTip(ctx); !errors.Is(err, robot.ErrNoTipAttached) {
		t.Fatalf("expected ErrNoTipAttached, got %v", err)
	}
	if err := pip.PickUpTip(ctx); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	if err := pip.PickUpTip(ctx); !errors.Is(err, robot.ErrTipAlreadyHeld) {
		t.Fatalf("expected ErrTipAlreadyHeld, got %v", err)
	}
	if !pip.TipAttached() {
		t.Fatalf("expected tip attached")
	}
	if err := pip.DropTip(ctx); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if pip.TipAttached() {
		t.Fatalf("expected no tip after drop")
	}
}

func TestTipRackConsumption(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	p := homed(t, Config{TipRacks: 1})
	pip := p.Pipette()

	for i := 0; i < 12; i++ {
		if err := pip.PickUpTip(ctx); err != nil {
			t.Fatalf("pick up %d: %v", i, err)
		}
		if err := pip.DropTip(ctx); err != nil {
			t.Fatalf("drop %d: %v", i, err)
		}
	}
	if err := pip.PickUpTip(ctx); !errors.Is(err, ErrOutOfTips) {
		t.Fatalf("expected ErrOutOfTips, got %v", err)
	}
}

func TestDedicatedTipReturnAndReuse(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	p := homed(t, DefaultConfig())
	pip := p.Pipette()
	tip := labware.Well{Labware: "wash_tips", Slot: "8", Name: "A3", Row: 'A', Column: 3}

	for i := 0; i < 2; i++ {
		if err := pip.PickUpTipAt(ctx, tip); err != nil {
			t.Fatalf("pick up dedicated %d: %v", i, err)
		}
		held, ok := p.HeldTip()
		if !ok || held != tip {
			t.Fatalf("unexpected held tip: %v %v", held, ok)
		}
		if err := pip.ReturnTip(ctx); err != nil {
			t.Fatalf("return %d: %v", i, err)
		}
	}
	if err := pip.PickUpTipAt(ctx, tip); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	if err := pip.DropTip(ctx); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := pip.PickUpTipAt(ctx, tip); !errors.Is(err, ErrTipDiscarded) {
		t.Fatalf("expected ErrTipDiscarded, got %v", err)
	}

	stats := p.Stats()
	if stats.TipReturns != 2 || stats.TipPickUps != 3 || stats.TipDrops != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTransferSplitsIntoTrips(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	p := homed(t, DefaultConfig())
	pip := p.Pipette()
	plate := testPlate(t)
	src, _ := plate.Well("A1")
	dst, _ := plate.Well("A2")

	err := pip.Transfer(ctx, 400, src.Bottom(0.6), dst.Top(-10), robot.TransferOptions{
		TipPolicy: robot.TipOnce,
		AirGap:    10,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	var ops []string
	for _, c := range p.Journal() {
		ops = append(ops, c.Op)
	}
	want := []string{OpHome, OpPickUpTip, OpTransfer, OpTransfer, OpTransfer, OpDropTip}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("journal mismatch (-want +got):\n%s", diff)
	}
	if pip.TipAttached() {
		t.Fatalf("policy once should leave no tip")
	}
}

func TestTransferPolicyAlwaysTakesTipPerTrip(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	p := homed(t, DefaultConfig())
	plate := testPlate(t)
	src, _ := plate.Well("A1")
	dst, _ := plate.Well("A2")

	err := p.Pipette().Transfer(ctx, 380, src.Bottom(0.3), dst.Bottom(0.5), robot.TransferOptions{
		TipPolicy: robot.TipAlways,
		AirGap:    10,
		BlowOut:   true,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := p.Count(OpPickUpTip); got != 2 {
		t.Fatalf("expected 2 pick-ups, got %d", got)
	}
	if got := p.Count(OpDropTip); got != 2 {
		t.Fatalf("expected 2 drops, got %d", got)
	}
}

func TestTransferNeverRequiresTip(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	p := homed(t, DefaultConfig())
	plate := testPlate(t)
	src, _ := plate.Well("A1")

	err := p.Pipette().Transfer(ctx, 50, src.Bottom(1), labware.Trash().Top(5), robot.TransferOptions{TipPolicy: robot.TipNever})
	if !errors.Is(err, robot.ErrNoTipAttached) {
		t.Fatalf("expected ErrNoTipAttached, got %v", err)
	}
}

func TestAspirateOverCapacity(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	p := homed(t, DefaultConfig())
	pip := p.Pipette()
	plate := testPlate(t)
	w, _ := plate.Well("A1")

	if err := pip.PickUpTip(ctx); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	if err := pip.Aspirate(ctx, 150, w.Top(-5), 1); err != nil {
		t.Fatalf("aspirate: %v", err)
	}
	if err := pip.Mix(ctx, 5, 50, w.Bottom(1)); err != nil {
		t.Fatalf("mix within capacity: %v", err)
	}
	if err := pip.Aspirate(ctx, 60, w.Top(-5), 1); !errors.Is(err, ErrOverCapacity) {
		t.Fatalf("expected ErrOverCapacity, got %v", err)
	}
}

func TestDelayAdvancesVirtualClock(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	p := homed(t, DefaultConfig())

	start := time.Now()
	if err := p.Delay(ctx, 10*time.Minute); err != nil {
		t.Fatalf("delay: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("delay should not sleep")
	}
	stats := p.Stats()
	if stats.Elapsed < 10*time.Minute {
		t.Fatalf("unexpected elapsed: %v", stats.Elapsed)
	}
	if diff := cmp.Diff([]time.Duration{10 * time.Minute}, stats.Delays); diff != "" {
		t.Fatalf("delays mismatch:\n%s", diff)
	}
}

func TestMagnetAndFlowRateState(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	p := homed(t, DefaultConfig())

	if err := p.Magnet().Engage(ctx, 0); !errors.Is(err, ErrInvalidHeight) {
		t.Fatalf("expected ErrInvalidHeight, got %v", err)
	}
	if err := p.Magnet().Engage(ctx, 12); err != nil {
		t.Fatalf("engage: %v", err)
	}
	if st := p.Magnet().Status(); !st.Engaged || st.Height != 12 {
		t.Fatalf("unexpected status: %v", st)
	}
	if err := p.Magnet().Disengage(ctx); err != nil {
		t.Fatalf("disengage: %v", err)
	}
	if st := p.Magnet().Status(); st.Engaged {
		t.Fatalf("expected disengaged")
	}

	pip := p.Pipette()
	if pip.FlowRate() != robot.DefaultFlowRate {
		t.Fatalf("unexpected initial flow rate: %v", pip.FlowRate())
	}
	if err := pip.SetFlowRate(ctx, robot.FlowRate{Aspirate: 0, Dispense: 10}); !errors.Is(err, robot.ErrInvalidFlowRate) {
		t.Fatalf("expected ErrInvalidFlowRate, got %v", err)
	}
	if err := pip.SetFlowRate(ctx, robot.FlowRate{Aspirate: 30, Dispense: 30}); err != nil {
		t.Fatalf("set flow rate: %v", err)
	}
	if got := pip.FlowRate(); got.Aspirate != 30 || got.Dispense != 30 {
		t.Fatalf("unexpected flow rate: %v", got)
	}
}

func TestPauseHook(t *testing.T) {
	testlog.Start(t)
	p := homed(t, DefaultConfig())
	var seen string
	p.OnPause(func(msg string) error {
		seen = msg
		return nil
	})
	if err := p.Pause(context.Background(), "place plate on tempdeck"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if seen != "place plate on tempdeck" {
		t.Fatalf("unexpected pause message: %q", seen)
	}
}

func TestCanceledContextStopsCommands(t *testing.T) {
	testlog.Start(t)
	p := homed(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Delay(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
