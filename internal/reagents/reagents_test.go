package reagents

import (
	"errors"
	"testing"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
)

func trough(t *testing.T) *labware.Labware {
	t.Helper()
	reg := labware.NewRegistry()
	lw, err := reg.Load("reagents", "fischerbrand_96_wellplate_2000ul", "5")
	if err != nil {
		t.Fatalf("load trough: %v", err)
	}
	return lw
}

func column(t *testing.T, lw *labware.Labware, col int) labware.Well {
	t.Helper()
	w, err := lw.Column(col)
	if err != nil {
		t.Fatalf("column %d: %v", col, err)
	}
	return w
}

func TestDescriptorValidate(t *testing.T) {
	src := column(t, trough(t), 1)
	ok := Descriptor{Name: "lysis", Source: src, TransferVolume: 260, MixVolume: 190, MixRepetitions: 15}
	if err := ok.Validate(300); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []Descriptor{
		{Name: "", Source: src, TransferVolume: 1, MixVolume: 1},
		{Name: "no-source", TransferVolume: 1, MixVolume: 1},
		{Name: "zero", Source: src, TransferVolume: 0, MixVolume: 1},
		{Name: "big-mix", Source: src, TransferVolume: 10, MixVolume: 301},
		{Name: "neg-reps", Source: src, TransferVolume: 10, MixVolume: 10, MixRepetitions: -1},
		{Name: "policy", Source: src, TransferVolume: 10, MixVolume: 10, TipPolicy: "sometimes"},
	}
	for _, d := range bad {
		if err := d.Validate(300); !errors.Is(err, ErrInvalidReagent) {
			t.Fatalf("%q: expected ErrInvalidReagent, got %v", d.Name, err)
		}
	}
}

func TestTableKeepsInsertionOrder(t *testing.T) {
	lw := trough(t)
	table := NewTable(300)
	names := []string{"lysis", "ipa320", "beads", "ipa400"}
	for i, name := range names {
		err := table.Add(Descriptor{
			Name:           name,
			Source:         column(t, lw, i+1),
			TransferVolume: 100,
			MixVolume:      100,
			MixRepetitions: 5,
		})
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	got := table.Names()
	for i := range names {
		if got[i] != names[i] {
			t.Fatalf("unexpected order: %v", got)
		}
	}
	d, err := table.Lookup("beads")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if d.Source.Name != "A3" || d.TipPolicy != robot.TipNever {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if _, err := table.Lookup("water"); !errors.Is(err, ErrUnknownReagent) {
		t.Fatalf("expected ErrUnknownReagent, got %v", err)
	}
	err = table.Add(Descriptor{Name: "beads", Source: column(t, lw, 9), TransferVolume: 1, MixVolume: 1})
	if !errors.Is(err, ErrDuplicateReagent) {
		t.Fatalf("expected ErrDuplicateReagent, got %v", err)
	}
}

func TestPartitionLookupByIndex(t *testing.T) {
	lw := trough(t)
	a12, a11, a10 := column(t, lw, 12), column(t, lw, 11), column(t, lw, 10)

	p, err := NewPartition([]labware.Well{a12, a11, a10}, 4)
	if err != nil {
		t.Fatalf("new partition: %v", err)
	}
	want := []labware.Well{a12, a12, a12, a12, a11, a11, a11, a11, a10, a10, a10, a10}
	for i, w := range want {
		got, err := p.SourceFor(i)
		if err != nil {
			t.Fatalf("source %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("index %d: got %s want %s", i, got, w)
		}
	}
	for _, i := range []int{0, 4, 8} {
		if !p.GroupStart(i) {
			t.Fatalf("expected group start at %d", i)
		}
	}
	if p.GroupStart(5) {
		t.Fatalf("unexpected group start at 5")
	}
	if _, err := p.SourceFor(12); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestPartitionUnevenGroups(t *testing.T) {
	lw := trough(t)
	p, err := NewPartition([]labware.Well{column(t, lw, 12), column(t, lw, 11), column(t, lw, 10)}, 5)
	if err != nil {
		t.Fatalf("new partition: %v", err)
	}
	last, err := p.SourceFor(11)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if last.Name != "A10" {
		t.Fatalf("unexpected reservoir for index 11: %s", last)
	}
	if _, err := NewPartition(nil, 4); !errors.Is(err, ErrInvalidPartition) {
		t.Fatalf("expected ErrInvalidPartition, got %v", err)
	}
}
