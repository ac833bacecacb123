package labware

import (
	"fmt"
	"sort"
	"strings"
)

// Kind separates plates from tip racks.
type Kind string

const (
	KindPlate   Kind = "plate"
	KindTipRack Kind = "tiprack"
)

// Definition describes the physical geometry of one labware type.
type Definition struct {
	LoadName string
	Kind     Kind
	Rows     int
	Columns  int
	Depth    float64 // mm
	Diameter float64 // mm
	Volume   float64 // µl per well, or tip capacity for racks
}

var builtinDefinitions = map[string]Definition{
	"fischerbrand_96_wellplate_2000ul": {
		LoadName: "fischerbrand_96_wellplate_2000ul",
		Kind:     KindPlate,
		Rows:     8,
		Columns:  12,
		Depth:    41,
		Diameter: 8.5,
		Volume:   2000,
	},
	"axygen_96_wellplate_400ul": {
		LoadName: "axygen_96_wellplate_400ul",
		Kind:     KindPlate,
		Rows:     8,
		Columns:  12,
		Depth:    20,
		Diameter: 5.3,
		Volume:   400,
	},
	"opentrons_96_filtertiprack_200ul": {
		LoadName: "opentrons_96_filtertiprack_200ul",
		Kind:     KindTipRack,
		Rows:     8,
		Columns:  12,
		Depth:    0,
		Diameter: 0,
		Volume:   200,
	},
	"opentrons_96_tiprack_300ul": {
		LoadName: "opentrons_96_tiprack_300ul",
		Kind:     KindTipRack,
		Rows:     8,
		Columns:  12,
		Depth:    0,
		Diameter: 0,
		Volume:   300,
	},
}

// LookupDefinition resolves a builtin definition by load name.
func LookupDefinition(loadName string) (Definition, error) {
	def, ok := builtinDefinitions[strings.TrimSpace(loadName)]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownDefinition, loadName)
	}
	return def, nil
}

// DefinitionNames lists builtin load names in lexical order.
func DefinitionNames() []string {
	names := make([]string, 0, len(builtinDefinitions))
	for name := range builtinDefinitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
