package liquid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/motion"
	"github.com/danmuck/pipetctl/internal/reagents"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/danmuck/pipetctl/internal/robot/sim"
	"github.com/danmuck/pipetctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type deck struct {
	platform *sim.Platform
	handler  *Handler
	samples  *labware.Labware
	trough   *labware.Labware
	ethanol  *labware.Labware
	washTips *labware.Labware
	pcr      *labware.Labware
}

func newDeck(t *testing.T) *deck {
	t.Helper()
	reg := labware.NewRegistry()
	load := func(label, def, slot string) *labware.Labware {
		lw, err := reg.Load(label, def, slot)
		require.NoError(t, err)
		return lw
	}
	d := &deck{
		platform: sim.New(sim.DefaultConfig()),
		samples:  load("samples", "fischerbrand_96_wellplate_2000ul", "9"),
		trough:   load("trough", "fischerbrand_96_wellplate_2000ul", "8"),
		ethanol:  load("ethanol", "fischerbrand_96_wellplate_2000ul", "6"),
		washTips: load("wash_tips", "opentrons_96_filtertiprack_200ul", "3"),
		pcr:      load("pcr", "axygen_96_wellplate_400ul", "1"),
	}
	require.NoError(t, d.platform.Home(context.Background()))
	d.handler = NewHandler(d.platform.Pipette(), d.platform, labware.Trash())
	return d
}

func (d *deck) set(t *testing.T, n int) []labware.Well {
	t.Helper()
	set, err := labware.SampleSet(d.samples, n)
	require.NoError(t, err)
	return set
}

func (d *deck) reagent(t *testing.T, name, well string, transfer, mix float64, reps int) reagents.Descriptor {
	t.Helper()
	src, err := d.trough.Well(well)
	require.NoError(t, err)
	return reagents.Descriptor{
		Name:           name,
		Source:         src,
		TransferVolume: transfer,
		MixVolume:      mix,
		MixRepetitions: reps,
		TipPolicy:      robot.TipNever,
	}
}

func TestTrashSupernatantOneTipPerSample(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	samples := d.set(t, 2)

	require.NoError(t, d.handler.TrashSupernatant(context.Background(), Supernatant{Volume: 650, Height: 0.4}, samples))

	require.Equal(t, 2, d.platform.Count(sim.OpPickUpTip))
	require.Equal(t, 2, d.platform.Count(sim.OpDropTip))
	require.False(t, d.platform.Pipette().TipAttached())

	var heights []float64
	for _, c := range d.platform.Journal() {
		if c.Op == sim.OpTransfer {
			heights = append(heights, c.Location.Offset)
			require.Equal(t, "trash", c.Dest.Well.Labware)
			require.True(t, c.Options.BlowOut)
		}
	}
	require.NotEmpty(t, heights)
	for _, h := range heights {
		require.Equal(t, 0.4, h)
	}
	// 650 µl at 190 µl per load is four trips per sample.
	require.Len(t, heights, 8)
	// no air cushion above 190 µl
	require.Equal(t, 0, d.platform.Count(sim.OpAspirate))
}

func TestTrashSupernatantCushionForSmallVolumes(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	samples := d.set(t, 1)

	require.NoError(t, d.handler.TrashSupernatant(context.Background(), Supernatant{Volume: 150, Height: 1}, samples))

	var ops []string
	for _, c := range d.platform.Journal() {
		ops = append(ops, c.Op)
	}
	want := []string{
		sim.OpHome,
		sim.OpPickUpTip,
		sim.OpAspirate,
		sim.OpTransfer,
		sim.OpDelay,
		sim.OpDispense,
		sim.OpDelay,
		sim.OpDropTip,
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("journal mismatch (-want +got):\n%s", diff)
	}
}

func TestTrashSupernatantCustomPurge(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	samples := d.set(t, 1)
	sup := Supernatant{
		Volume:    150,
		Height:    0.4,
		NoCushion: true,
		Purge:     &Purge{Dispense: []float64{200, 50}, Pause: 2 * time.Second},
	}

	require.NoError(t, d.handler.TrashSupernatant(context.Background(), sup, samples))

	var ops []string
	var volumes []float64
	for _, c := range d.platform.Journal() {
		ops = append(ops, c.Op)
		if c.Op == sim.OpDispense {
			volumes = append(volumes, c.Volume)
		}
	}
	want := []string{
		sim.OpHome,
		sim.OpPickUpTip,
		sim.OpTransfer,
		sim.OpDispense,
		sim.OpDelay,
		sim.OpDispense,
		sim.OpDropTip,
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("journal mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []float64{200, 50}, volumes)
	require.Equal(t, []time.Duration{2 * time.Second}, d.platform.Stats().Delays)
}

func TestPurgeValidation(t *testing.T) {
	d := newDeck(t)
	samples := d.set(t, 1)
	bad := []Purge{
		{},
		{Dispense: []float64{10, 0}},
		{Draw: -1, Dispense: []float64{10}},
		{Dispense: []float64{10}, FlowRate: robot.FlowRate{Aspirate: 20}},
	}
	for i, p := range bad {
		sup := Supernatant{Volume: 100, Height: 1, Purge: &p}
		err := d.handler.TrashSupernatant(context.Background(), sup, samples)
		if err == nil {
			t.Fatalf("purge %d: expected error", i)
		}
	}
	require.NoError(t, SupernatantPurge.Validate())
	require.NoError(t, WashPurge.Validate())
	require.Zero(t, d.platform.Count(sim.OpPickUpTip))
}

func TestTransferAndMixOncePerSample(t *testing.T) {
	testlog.Start(t)
	for n := 1; n <= 12; n++ {
		d := newDeck(t)
		water := d.reagent(t, "water", "A5", 40, 20, 5)
		samples := d.set(t, n)
		require.NoError(t, d.handler.TransferAndMix(context.Background(), water, samples))
		require.Equal(t, n, d.platform.Stats().Transfers, "n=%d", n)
		require.Equal(t, n, d.platform.Count(sim.OpMix), "n=%d", n)
		require.Equal(t, n, d.platform.Count(sim.OpDropTip), "n=%d", n)
		require.Equal(t, robot.DefaultFlowRate, d.platform.Pipette().FlowRate())
	}
}

func TestTransferAndMixAirCushion(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	water := d.reagent(t, "water", "A5", 40, 20, 5)
	samples := d.set(t, 1)

	require.NoError(t, d.handler.TransferAndMix(context.Background(), water, samples))

	var cushions []float64
	for _, c := range d.platform.Journal() {
		if c.Op == sim.OpAspirate || c.Op == sim.OpDispense {
			cushions = append(cushions, c.Volume)
			require.Equal(t, labware.AnchorTop, c.Location.Anchor)
			require.Equal(t, 10.0, c.Location.Offset)
		}
	}
	require.Equal(t, []float64{180, 180}, cushions)
}

func TestTransferAndMixWithResuspensionPartition(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	beads := d.reagent(t, "beads", "A12", 40, 100, 2)
	var sources []labware.Well
	for _, col := range []int{12, 11, 10} {
		w, err := d.trough.Column(col)
		require.NoError(t, err)
		sources = append(sources, w)
	}
	partition, err := reagents.NewPartition(sources, 4)
	require.NoError(t, err)
	samples := d.set(t, 12)

	rs := Resuspension{Sources: FromPartition(partition), Cadence: Cadence{FullEvery: 4, Lite: true}}
	require.NoError(t, d.handler.TransferAndMixWithResuspension(context.Background(), beads, rs, samples))

	var drawn []string
	for _, c := range d.platform.Journal() {
		if c.Op == sim.OpTransfer {
			drawn = append(drawn, c.Location.Well.Name)
		}
	}
	want := []string{"A12", "A12", "A12", "A12", "A11", "A11", "A11", "A11", "A10", "A10", "A10", "A10"}
	if diff := cmp.Diff(want, drawn); diff != "" {
		t.Fatalf("source mismatch (-want +got):\n%s", diff)
	}
	// Three full sweeps (4 mixes each) and nine lite (2 each), plus one
	// sample mix per well.
	require.Equal(t, 3*4+9*2+12, d.platform.Count(sim.OpMix))
	require.Equal(t, 12, d.platform.Count(sim.OpDropTip))
}

func TestResuspensionAtGroupStarts(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	beads := d.reagent(t, "beads", "A12", 40, 100, 2)
	var sources []labware.Well
	for _, col := range []int{12, 11} {
		w, err := d.trough.Column(col)
		require.NoError(t, err)
		sources = append(sources, w)
	}
	partition, err := reagents.NewPartition(sources, 3)
	require.NoError(t, err)
	samples := d.set(t, 5)

	rs := Resuspension{
		Sources:     FromPartition(partition),
		GroupStarts: PartitionGroups(partition),
		Cadence: Cadence{
			GroupStart: true,
			Sweep:      motion.Profile{Full: []float64{1.4, 1.0, 0.6}, MixOnly: true},
		},
		BlowOutInPlace: true,
	}
	require.NoError(t, d.handler.TransferAndMixWithResuspension(context.Background(), beads, rs, samples))

	var swept []string
	var depths []float64
	for _, c := range d.platform.Journal() {
		switch {
		case c.Op == sim.OpMix && c.Location.Well.Labware == "trough":
			swept = append(swept, c.Location.Well.Name)
			depths = append(depths, c.Location.Offset)
		case c.Op == sim.OpAspirate || c.Op == sim.OpDispense:
			t.Fatalf("mix-only sweep drew from the surface: %+v", c)
		case c.Op == sim.OpBlowOut:
			require.True(t, c.Location.IsZero(), "blow-out at %s", c.Location)
		}
	}
	require.Equal(t, []string{"A12", "A12", "A12", "A11", "A11", "A11"}, swept)
	require.Equal(t, []float64{1.4, 1.0, 0.6, 1.4, 1.0, 0.6}, depths)
	require.Equal(t, 5, d.platform.Count(sim.OpBlowOut))
}

func TestCadence(t *testing.T) {
	cases := []struct {
		name    string
		cadence Cadence
		want    []string
	}{
		{"beckman", Cadence{FullEvery: 4, Lite: true}, []string{"full", "lite", "lite", "lite", "full", "lite"}},
		{"bomb", Cadence{FullEvery: 4, Lite: true, SkipFirst: true}, []string{"lite", "lite", "lite", "lite", "full", "lite"}},
		{"md", Cadence{FullEvery: 5}, []string{"full", "-", "-", "-", "-", "full"}},
		{"groups", Cadence{GroupStart: true}, []string{"full", "-", "-", "-", "-", "full"}},
		{"groups lite", Cadence{GroupStart: true, Lite: true, SkipFirst: true}, []string{"lite", "lite", "lite", "lite", "lite", "full"}},
		{"none", Cadence{}, []string{"-", "-", "-", "-", "-", "-"}},
	}
	for _, tc := range cases {
		var got []string
		for i := 0; i < 6; i++ {
			intensity, ok := tc.cadence.For(i, i%5 == 0)
			if !ok {
				got = append(got, "-")
				continue
			}
			got = append(got, intensity.String())
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%s cadence mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
	if _, ok := (Cadence{}).For(0, true); ok || !(Cadence{}).IsZero() {
		t.Fatalf("zero cadence should never resuspend")
	}
	if in, _ := (Cadence{FullEvery: 1}).For(3, false); in != motion.Full {
		t.Fatalf("expected full")
	}
	if (Cadence{GroupStart: true}).IsZero() {
		t.Fatalf("group start cadence should resuspend")
	}
}

func TestWashUsesDedicatedTips(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	samples := d.set(t, 3)
	ctx := context.Background()

	add := WashAdd{
		Samples:        samples,
		Tips:           d.washTips,
		Source:         MatchingColumn(d.ethanol),
		Volume:         200,
		MixRepetitions: 2,
	}
	remove := WashRemove{Samples: samples, Tips: d.washTips, Volume: 300, Height: 0.6}

	for rep := 0; rep < 2; rep++ {
		require.NoError(t, d.handler.AddWash(ctx, add))
		require.NoError(t, d.handler.RemoveWash(ctx, remove))
	}

	stats := d.platform.Stats()
	require.Equal(t, 0, stats.TipDrops)
	require.Equal(t, 12, stats.TipPickUps)
	require.Equal(t, 12, stats.TipReturns)

	for _, c := range d.platform.Journal() {
		if c.Op != sim.OpPickUpTip {
			continue
		}
		require.Equal(t, "wash_tips", c.Tip.Labware)
	}
	for _, c := range d.platform.Journal() {
		if c.Op == sim.OpTransfer && c.Location.Well.Labware == "ethanol" {
			require.Equal(t, c.Location.Well.Column, c.Dest.Well.Column)
			require.Equal(t, 2.0, c.Location.Offset)
		}
	}
	require.Equal(t, robot.DefaultFlowRate, d.platform.Pipette().FlowRate())
}

func TestRemoveWashSplitsWithPurge(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	samples := d.set(t, 1)
	ctx := context.Background()

	remove := WashRemove{
		Samples:     samples,
		Tips:        d.washTips,
		Volume:      450,
		Splits:      []float64{200, 250},
		Height:      0.6,
		TrashOffset: 5,
		Purge:       &Purge{Dispense: []float64{40, 40}, Pause: 2 * time.Second},
	}
	require.NoError(t, d.handler.RemoveWash(ctx, remove))

	var moved []float64
	var ops []string
	journal := d.platform.Journal()
	for i, c := range journal {
		if c.Op != sim.OpTransfer {
			ops = append(ops, c.Op)
			continue
		}
		require.Equal(t, 0.6, c.Location.Offset)
		require.Equal(t, 5.0, c.Dest.Offset)
		if journal[i+1].Op != sim.OpTransfer {
			moved = append(moved, c.Volume*float64(c.Trips))
			ops = append(ops, c.Op)
		}
	}
	require.Equal(t, []float64{200, 250}, moved)
	want := []string{
		sim.OpHome,
		sim.OpPickUpTip,
		sim.OpTransfer,
		sim.OpDispense,
		sim.OpDelay,
		sim.OpDispense,
		sim.OpTransfer,
		sim.OpDispense,
		sim.OpDelay,
		sim.OpDispense,
		sim.OpReturnTip,
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("journal mismatch (-want +got):\n%s", diff)
	}
	require.Zero(t, d.platform.Count(sim.OpSetFlowRate))
}

func TestWashTipRequiresRack(t *testing.T) {
	d := newDeck(t)
	w := d.set(t, 1)[0]
	if _, err := WashTip(nil, w); !errors.Is(err, ErrNoTipRack) {
		t.Fatalf("expected ErrNoTipRack, got %v", err)
	}
	if _, err := WashTip(d.samples, w); !errors.Is(err, labware.ErrNotTipRack) {
		t.Fatalf("expected ErrNotTipRack, got %v", err)
	}
}

func TestTransferEluate(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	samples := d.set(t, 4)

	require.NoError(t, d.handler.TransferEluate(context.Background(), 40, 0, samples, d.pcr))

	require.Equal(t, 4, d.platform.Count(sim.OpPickUpTip))
	require.Equal(t, 4, d.platform.Count(sim.OpDropTip))
	var sawSlow bool
	for _, c := range d.platform.Journal() {
		if c.Op == sim.OpSetFlowRate && c.FlowRate == EluateFlowRate {
			sawSlow = true
		}
		if c.Op == sim.OpTransfer {
			require.Equal(t, "pcr", c.Dest.Well.Labware)
			require.Equal(t, c.Location.Well.Column, c.Dest.Well.Column)
			require.Equal(t, 0.3, c.Location.Offset)
			require.Equal(t, 0.5, c.Dest.Offset)
		}
	}
	require.True(t, sawSlow)
	require.Equal(t, robot.DefaultFlowRate, d.platform.Pipette().FlowRate())
}

func TestTransferEluateFromHeight(t *testing.T) {
	testlog.Start(t)
	d := newDeck(t)
	samples := d.set(t, 2)

	require.NoError(t, d.handler.TransferEluate(context.Background(), 40, 0.2, samples, d.pcr))

	for _, c := range d.platform.Journal() {
		if c.Op == sim.OpTransfer {
			require.Equal(t, 0.2, c.Location.Offset)
		}
	}
	require.Equal(t, 2, d.platform.Stats().Transfers)
}

func TestEmptySampleSetRejected(t *testing.T) {
	d := newDeck(t)
	err := d.handler.TrashSupernatant(context.Background(), Supernatant{Volume: 100, Height: 1}, nil)
	require.ErrorIs(t, err, ErrNoSamples)
	require.Equal(t, 1, len(d.platform.Journal()))
}
