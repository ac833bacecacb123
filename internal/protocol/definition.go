package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/pipetctl/internal/liquid"
	"github.com/danmuck/pipetctl/internal/motion"
	"github.com/danmuck/pipetctl/internal/robot"
)

var (
	ErrInvalidDefinition = errors.New("protocol: invalid definition")
	ErrInvalidStep       = errors.New("protocol: invalid step")
	ErrUnknownField      = errors.New("protocol: unknown field")
)

// StepKind names one sequencer operation.
type StepKind string

const (
	StepComment                  StepKind = "comment"
	StepPause                    StepKind = "pause"
	StepResuspend                StepKind = "resuspend"
	StepTransferAndMix           StepKind = "transfer_and_mix"
	StepTransferWithResuspension StepKind = "transfer_with_resuspension"
	StepEngage                   StepKind = "engage"
	StepDisengage                StepKind = "disengage"
	StepDelay                    StepKind = "delay"
	StepTrashSupernatant         StepKind = "trash_supernatant"
	StepWash                     StepKind = "wash"
	StepMixWells                 StepKind = "mix_wells"
	StepBlowAir                  StepKind = "blow_air"
	StepTransferEluate           StepKind = "transfer_eluate"
)

var stepKinds = map[StepKind]bool{
	StepComment:                  true,
	StepPause:                    true,
	StepResuspend:                true,
	StepTransferAndMix:           true,
	StepTransferWithResuspension: true,
	StepEngage:                   true,
	StepDisengage:                true,
	StepDelay:                    true,
	StepTrashSupernatant:         true,
	StepWash:                     true,
	StepMixWells:                 true,
	StepBlowAir:                  true,
	StepTransferEluate:           true,
}

// Phase is a run lifecycle marker.
type Phase string

const (
	PhaseHoming           Phase = "homing"
	PhaseBeadBinding      Phase = "bead_binding"
	PhaseMagnetSeparation Phase = "magnet_separation"
	PhaseWash             Phase = "wash"
	PhaseDrying           Phase = "drying"
	PhaseElution          Phase = "elution"
	PhaseTransfer         Phase = "transfer"
	PhaseDone             Phase = "done"
)

// stepPhases are the phases a step may declare. Homing and done belong to
// the sequencer.
var stepPhases = map[Phase]bool{
	PhaseBeadBinding:      true,
	PhaseMagnetSeparation: true,
	PhaseWash:             true,
	PhaseDrying:           true,
	PhaseElution:          true,
	PhaseTransfer:         true,
}

// Gates an optional step may name.
const GateDNase = "dnase"

// Labware roles.
const (
	RoleSamples  = "samples"
	RoleReagents = "reagents"
	RoleWash     = "wash"
	RoleOutput   = "output"
	RoleTips     = "tips"
	RoleWashTips = "wash_tips"
)

var roles = map[string]bool{
	RoleSamples:  true,
	RoleReagents: true,
	RoleWash:     true,
	RoleOutput:   true,
	RoleTips:     true,
	RoleWashTips: true,
}

// Duration decodes "90s" / "35m" style TOML strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", raw)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Definition is one protocol variant.
type Definition struct {
	ID          string `toml:"id"`
	Title       string `toml:"title"`
	Description string `toml:"description"`
	Author      string `toml:"author"`
	// MaxColumns caps the sample columns one load of tips can serve. Zero
	// means a full plate.
	MaxColumns int `toml:"max_columns"`

	Pipette  PipetteSpec   `toml:"pipette"`
	Magnet   *MagnetSpec   `toml:"magnet"`
	Labware  []LabwareSpec `toml:"labware"`
	Reagents []ReagentSpec `toml:"reagents"`
	Steps    []Step        `toml:"steps"`
}

type PipetteSpec struct {
	Model     string   `toml:"model"`
	Mount     string   `toml:"mount"`
	MaxVolume float64  `toml:"max_volume"`
	TipRacks  []string `toml:"tip_racks"`
}

type MagnetSpec struct {
	Slot   string  `toml:"slot"`
	Height float64 `toml:"height"`
}

type LabwareSpec struct {
	Label    string `toml:"label"`
	LoadName string `toml:"load_name"`
	Slot     string `toml:"slot"`
	Role     string `toml:"role"`
}

// ReagentSpec places a reagent in a reservoir. Reservoirs, when set, split
// the samples across equal wells in groups of GroupSize.
type ReagentSpec struct {
	Name               string   `toml:"name"`
	Labware            string   `toml:"labware"`
	Well               string   `toml:"well"`
	TransferVolume     float64  `toml:"transfer_volume"`
	MixVolume          float64  `toml:"mix_volume"`
	MixRepetitions     int      `toml:"mix_repetitions"`
	TestMixRepetitions int      `toml:"test_mix_repetitions"`
	TipPolicy          string   `toml:"tip_policy"`
	DrawHeight         float64  `toml:"draw_height"`
	Reservoirs         []string `toml:"reservoirs"`
	GroupSize          int      `toml:"group_size"`
}

// Step is one sequencer instruction. Which fields apply depends on Kind.
type Step struct {
	Kind     StepKind `toml:"kind"`
	Phase    Phase    `toml:"phase"`
	Optional string   `toml:"optional"`
	Message  string   `toml:"message"`
	Box      bool     `toml:"box"`

	Reagent   string         `toml:"reagent"`
	Intensity string         `toml:"intensity"`
	Sweep     motion.Profile `toml:"sweep"`
	Cadence   liquid.Cadence `toml:"cadence"`
	// BlowOutInPlace ends each mix with a blow-out where the tip stands.
	BlowOutInPlace bool `toml:"blow_out_in_place"`

	Duration     Duration `toml:"duration"`
	TestDuration Duration `toml:"test_duration"`

	Volume             float64   `toml:"volume"`
	RemoveVolume       float64   `toml:"remove_volume"`
	RemoveSplits       []float64 `toml:"remove_splits"`
	Height             float64   `toml:"height"`
	FinalHeight        float64   `toml:"final_height"`
	Repetitions        int       `toml:"repetitions"`
	MixRepetitions     int       `toml:"mix_repetitions"`
	TestMixRepetitions int       `toml:"test_mix_repetitions"`

	Source       string         `toml:"source"`
	SourceHeight float64        `toml:"source_height"`
	Tips         string         `toml:"tips"`
	Dest         string         `toml:"dest"`
	TrashOffset  float64        `toml:"trash_offset"`
	FlowRate     robot.FlowRate `toml:"flow_rate"`

	// NoCushion and Purge tune supernatant removal; Purge also applies to
	// wash removal.
	NoCushion bool       `toml:"no_cushion"`
	Purge     *PurgeSpec `toml:"purge"`
}

// PurgeSpec is the in-place purge after a transfer to the trash.
type PurgeSpec struct {
	Draw     float64        `toml:"draw"`
	Dispense []float64      `toml:"dispense"`
	Pause    Duration       `toml:"pause"`
	Settle   bool           `toml:"settle"`
	FlowRate robot.FlowRate `toml:"flow_rate"`
}

func (p *PurgeSpec) purge() *liquid.Purge {
	if p == nil {
		return nil
	}
	return &liquid.Purge{
		Draw:     p.Draw,
		Dispense: p.Dispense,
		Pause:    p.Pause.Duration,
		Settle:   p.Settle,
		FlowRate: p.FlowRate,
	}
}

func (p *PurgeSpec) validate() error {
	if p == nil {
		return nil
	}
	return p.purge().Validate()
}

// Label renders a step for logs and errors.
func (s Step) Label(index int) string {
	return fmt.Sprintf("step %d (%s)", index+1, s.Kind)
}

// Decode reads one definition and rejects keys it does not know.
func Decode(r io.Reader) (*Definition, error) {
	var def Definition
	meta, err := toml.NewDecoder(r).Decode(&def)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, strings.Join(keys, ", "))
	}
	return &def, nil
}

// Parse decodes and validates one definition.
func Parse(data []byte) (*Definition, error) {
	def, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate checks identity, deck layout, reagents, and every step
// reference without touching a platform.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if !isValidID(strings.TrimSpace(d.ID)) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidDefinition, d.ID)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: %s: title is required", ErrInvalidDefinition, d.ID)
	}
	if d.Pipette.MaxVolume <= 0 {
		return fmt.Errorf("%w: %s: pipette max_volume %g", ErrInvalidDefinition, d.ID, d.Pipette.MaxVolume)
	}
	if len(d.Pipette.TipRacks) == 0 {
		return fmt.Errorf("%w: %s: pipette needs at least one tip rack", ErrInvalidDefinition, d.ID)
	}
	for _, lw := range d.Labware {
		if !roles[lw.Role] {
			return fmt.Errorf("%w: %s: labware %q role %q", ErrInvalidDefinition, d.ID, lw.Label, lw.Role)
		}
	}
	if d.MaxColumns < 0 {
		return fmt.Errorf("%w: %s: max_columns %d", ErrInvalidDefinition, d.ID, d.MaxColumns)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: %s: no steps", ErrInvalidDefinition, d.ID)
	}
	dk, err := buildDeck(d)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, d.ID, err)
	}
	for i, step := range d.Steps {
		if err := dk.checkStep(step); err != nil {
			return fmt.Errorf("%w: %s: %s: %w", ErrInvalidStep, d.ID, step.Label(i), err)
		}
	}
	return nil
}

func (dk *deck) checkStep(s Step) error {
	if !stepKinds[s.Kind] {
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	if !stepPhases[s.Phase] {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.Optional != "" && s.Optional != GateDNase {
		return fmt.Errorf("unknown gate %q", s.Optional)
	}
	switch s.Kind {
	case StepComment, StepPause:
		if strings.TrimSpace(s.Message) == "" {
			return errors.New("message is required")
		}
	case StepResuspend:
		if _, err := dk.reagents.Lookup(s.Reagent); err != nil {
			return err
		}
		if _, err := parseIntensity(s.Intensity); err != nil {
			return err
		}
		return s.Sweep.Validate()
	case StepTransferAndMix:
		if _, err := dk.reagents.Lookup(s.Reagent); err != nil {
			return err
		}
	case StepTransferWithResuspension:
		if _, err := dk.reagents.Lookup(s.Reagent); err != nil {
			return err
		}
		return s.Cadence.Sweep.Validate()
	case StepEngage, StepDisengage:
		if dk.magnet == nil {
			return errors.New("no magnet declared")
		}
	case StepDelay:
		if s.Duration.Duration <= 0 {
			return errors.New("duration is required")
		}
	case StepTrashSupernatant:
		if s.Volume <= 0 || s.Height < 0 {
			return fmt.Errorf("volume %g height %g", s.Volume, s.Height)
		}
		return s.Purge.validate()
	case StepWash:
		return dk.checkWash(s)
	case StepMixWells:
		if s.Repetitions <= 0 {
			return fmt.Errorf("repetitions %d", s.Repetitions)
		}
	case StepBlowAir:
		if s.Duration.Duration <= 0 {
			return errors.New("duration is required")
		}
	case StepTransferEluate:
		if s.Volume <= 0 || s.SourceHeight < 0 {
			return fmt.Errorf("volume %g source height %g", s.Volume, s.SourceHeight)
		}
		if _, err := dk.labware.Get(s.Dest); err != nil {
			return err
		}
	}
	return nil
}

func (dk *deck) checkWash(s Step) error {
	if dk.magnet == nil {
		return errors.New("no magnet declared")
	}
	if s.Repetitions <= 0 {
		return fmt.Errorf("repetitions %d", s.Repetitions)
	}
	if s.Volume <= 0 || s.Height < 0 || s.FinalHeight < 0 || s.RemoveVolume < 0 {
		return fmt.Errorf("volume %g remove %g height %g final %g", s.Volume, s.RemoveVolume, s.Height, s.FinalHeight)
	}
	if (s.Source == "") == (s.Reagent == "") {
		return errors.New("exactly one of source or reagent is required")
	}
	if s.Source != "" {
		if _, err := dk.labware.Get(s.Source); err != nil {
			return err
		}
	} else if _, err := dk.reagents.Lookup(s.Reagent); err != nil {
		return err
	}
	if _, err := dk.labware.TipRack(s.Tips); err != nil {
		return err
	}
	sum := 0.0
	for _, v := range s.RemoveSplits {
		if v <= 0 {
			return fmt.Errorf("remove split %g", v)
		}
		sum += v
	}
	if len(s.RemoveSplits) > 0 && s.RemoveVolume > 0 && math.Abs(sum-s.RemoveVolume) > 1e-9 {
		return fmt.Errorf("remove splits total %g, remove_volume %g", sum, s.RemoveVolume)
	}
	if err := s.Purge.validate(); err != nil {
		return err
	}
	if s.FlowRate != (robot.FlowRate{}) {
		return s.FlowRate.Validate()
	}
	return nil
}
