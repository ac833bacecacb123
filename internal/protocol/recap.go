package protocol

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// Box frames line in a border of '#'.
func Box(line string) string {
	border := strings.Repeat("#", len(line)+4)
	return "\n" + border + "\n# " + line + " #\n" + border
}

// Setup is the operator checklist printed before a run.
type Setup struct {
	Protocol   string           `json:"protocol" yaml:"protocol"`
	Title      string           `json:"title" yaml:"title"`
	Columns    int              `json:"columns" yaml:"columns"`
	TestMode   bool             `json:"test_mode" yaml:"test_mode"`
	DNase      bool             `json:"dnase" yaml:"dnase"`
	Pipette    PipetteRecap     `json:"pipette" yaml:"pipette"`
	Containers []ContainerRecap `json:"containers" yaml:"containers"`
	Reagents   []ReagentRecap   `json:"reagents" yaml:"reagents"`
	Modules    []ModuleRecap    `json:"modules,omitempty" yaml:"modules,omitempty"`
}

type PipetteRecap struct {
	Model     string   `json:"model" yaml:"model"`
	Mount     string   `json:"mount" yaml:"mount"`
	MaxVolume float64  `json:"max_volume" yaml:"max_volume"`
	TipRacks  []string `json:"tip_racks" yaml:"tip_racks"`
}

type ContainerRecap struct {
	Slot     string `json:"slot" yaml:"slot"`
	Label    string `json:"label" yaml:"label"`
	LoadName string `json:"load_name" yaml:"load_name"`
}

// ReagentRecap says where to pour a reagent and how much it needs.
type ReagentRecap struct {
	Name      string   `json:"name" yaml:"name"`
	Labware   string   `json:"labware" yaml:"labware"`
	Slot      string   `json:"slot" yaml:"slot"`
	Wells     []string `json:"wells" yaml:"wells"`
	PerSample float64  `json:"per_sample_ul" yaml:"per_sample_ul"`
	Total     float64  `json:"total_ul" yaml:"total_ul"`
}

type ModuleRecap struct {
	Kind   string  `json:"kind" yaml:"kind"`
	Slot   string  `json:"slot" yaml:"slot"`
	Height float64 `json:"height" yaml:"height"`
	Status string  `json:"status" yaml:"status"`
}

// Recap lists instruments, containers by slot, reagents in insertion
// order, and modules for the given run options.
func Recap(def *Definition, opts RunOptions) (*Setup, error) {
	samples, dk, err := preflight(def, opts)
	if err != nil {
		return nil, err
	}
	setup := &Setup{
		Protocol: def.ID,
		Title:    def.Title,
		Columns:  opts.Columns,
		TestMode: opts.TestMode,
		DNase:    opts.DNase,
		Pipette: PipetteRecap{
			Model:     def.Pipette.Model,
			Mount:     def.Pipette.Mount,
			MaxVolume: def.Pipette.MaxVolume,
			TipRacks:  append([]string(nil), def.Pipette.TipRacks...),
		},
	}
	for _, lw := range dk.labware.All() {
		setup.Containers = append(setup.Containers, ContainerRecap{
			Slot:     lw.Slot,
			Label:    lw.Label,
			LoadName: lw.Def.LoadName,
		})
	}
	for _, desc := range dk.reagents.All() {
		wells, err := dk.reservoirsFor(desc, samples)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(wells))
		for _, w := range wells {
			names = append(names, w.Name)
		}
		setup.Reagents = append(setup.Reagents, ReagentRecap{
			Name:      desc.Name,
			Labware:   desc.Source.Labware,
			Slot:      desc.Source.Slot,
			Wells:     names,
			PerSample: desc.TransferVolume,
			Total:     desc.TransferVolume * float64(len(samples)),
		})
	}
	if def.Magnet != nil {
		setup.Modules = append(setup.Modules, ModuleRecap{
			Kind:   "magdeck",
			Slot:   def.Magnet.Slot,
			Height: def.Magnet.Height,
			Status: "disengaged",
		})
	}
	return setup, nil
}

// String renders the recap the way it is printed before a run.
func (s *Setup) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Setup recap: %s (%s)\n", s.Title, s.Protocol)
	fmt.Fprintf(&b, "columns=%d test_mode=%t dnase=%t\n", s.Columns, s.TestMode, s.DNase)

	b.WriteString("\nInstruments\n")
	fmt.Fprintf(&b, "\t%s on %s mount, %g µl, tips from %s\n",
		s.Pipette.Model, s.Pipette.Mount, s.Pipette.MaxVolume, strings.Join(s.Pipette.TipRacks, ", "))

	b.WriteString("\nContainers\n")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, c := range s.Containers {
		fmt.Fprintf(tw, "\tslot %s\t%s\t%s\n", c.Slot, c.Label, c.LoadName)
	}
	_ = tw.Flush()

	b.WriteString("\nReagents\n")
	tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, r := range s.Reagents {
		fmt.Fprintf(tw, "\t%s\tslot %s %s\t%s\t%g µl/sample\t%g µl total\n",
			r.Name, r.Slot, r.Labware, strings.Join(r.Wells, ","), r.PerSample, r.Total)
	}
	_ = tw.Flush()

	if len(s.Modules) > 0 {
		b.WriteString("\nModules\n")
		for _, m := range s.Modules {
			fmt.Fprintf(&b, "\t%s slot %s height %g %s\n", m.Kind, m.Slot, m.Height, m.Status)
		}
	}
	return b.String()
}
