package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/liquid"
	"github.com/danmuck/pipetctl/internal/motion"
	"github.com/danmuck/pipetctl/internal/reagents"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

var ErrRunOptions = errors.New("protocol: invalid run options")

// RunOptions are fixed for the whole run.
type RunOptions struct {
	Columns  int
	TestMode bool
	DNase    bool
	// Observer, when set, sees every step before it runs.
	Observer Observer
}

func (o RunOptions) gate(name string) bool {
	switch name {
	case "":
		return true
	case GateDNase:
		return o.DNase
	default:
		return false
	}
}

// Event describes the step about to run.
type Event struct {
	Index   int
	Kind    StepKind
	Phase   Phase
	Message string
	Skipped bool
}

// Observer receives step events on the run goroutine.
type Observer func(Event)

// PhaseReport summarizes one contiguous stretch of a phase.
type PhaseReport struct {
	Phase     Phase `json:"phase" yaml:"phase"`
	Steps     int   `json:"steps" yaml:"steps"`
	SampleOps int   `json:"sample_ops" yaml:"sample_ops"`
}

// Report is the outcome of a completed run.
type Report struct {
	Protocol        string          `json:"protocol"`
	Columns         int             `json:"columns"`
	TestMode        bool            `json:"test_mode"`
	DNase           bool            `json:"dnase"`
	Phases          []PhaseReport   `json:"phases"`
	Steps           int             `json:"steps"`
	Skipped         int             `json:"skipped"`
	Transfers       int             `json:"transfers"`
	Delays          []time.Duration `json:"delays"`
	IncubationTotal time.Duration   `json:"incubation_total"`
}

// PhaseSequence lists phases in the order they ran.
func (r *Report) PhaseSequence() []Phase {
	out := make([]Phase, 0, len(r.Phases))
	for _, p := range r.Phases {
		out = append(out, p.Phase)
	}
	return out
}

func (r *Report) enter(phase Phase) *PhaseReport {
	if n := len(r.Phases); n > 0 && r.Phases[n-1].Phase == phase {
		return &r.Phases[n-1]
	}
	r.Phases = append(r.Phases, PhaseReport{Phase: phase})
	return &r.Phases[len(r.Phases)-1]
}

func (r *Report) incubate(d time.Duration) {
	r.Delays = append(r.Delays, d)
	r.IncubationTotal += d
}

// Sequencer executes definitions on one platform, one run at a time.
type Sequencer struct {
	platform robot.Platform
}

func NewSequencer(platform robot.Platform) *Sequencer {
	return &Sequencer{platform: platform}
}

// countingPipette counts completed transfers for the report.
type countingPipette struct {
	robot.Pipette
	transfers *int
}

func (c countingPipette) Transfer(ctx context.Context, volume float64, src, dst labware.Location, opts robot.TransferOptions) error {
	if err := c.Pipette.Transfer(ctx, volume, src, dst, opts); err != nil {
		return err
	}
	*c.transfers++
	return nil
}

// run is the state of one Run call.
type run struct {
	platform robot.Platform
	pip      robot.Pipette
	handler  *liquid.Handler
	deck     *deck
	magnet   *MagnetSpec
	mode     Mode
	samples  []labware.Well
	report   *Report
}

// Check validates run options against def without touching a platform.
func Check(def *Definition, opts RunOptions) error {
	_, _, err := preflight(def, opts)
	return err
}

// preflight validates options and the definition, and resolves the sample
// set.
func preflight(def *Definition, opts RunOptions) ([]labware.Well, *deck, error) {
	if err := labware.ValidateColumns(opts.Columns); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRunOptions, err)
	}
	if err := def.Validate(); err != nil {
		return nil, nil, err
	}
	if def.MaxColumns > 0 && opts.Columns > def.MaxColumns {
		return nil, nil, fmt.Errorf("%w: %s serves at most %d columns", ErrRunOptions, def.ID, def.MaxColumns)
	}
	dk, err := buildDeck(def)
	if err != nil {
		return nil, nil, err
	}
	samples, err := labware.SampleSet(dk.samples, opts.Columns)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRunOptions, err)
	}
	for name, part := range dk.partitions {
		if part.Capacity() < len(samples) {
			return nil, nil, fmt.Errorf("%w: reagent %s serves %d columns, run has %d", ErrRunOptions, name, part.Capacity(), len(samples))
		}
	}
	return samples, dk, nil
}

// Run validates everything, homes, disengages the magnet, and executes the
// steps in order. The first platform error halts the run.
func (s *Sequencer) Run(ctx context.Context, def *Definition, opts RunOptions) (*Report, error) {
	samples, dk, err := preflight(def, opts)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Protocol: def.ID,
		Columns:  opts.Columns,
		TestMode: opts.TestMode,
		DNase:    opts.DNase,
	}
	pip := countingPipette{Pipette: s.platform.Pipette(), transfers: &report.Transfers}
	r := &run{
		platform: s.platform,
		pip:      pip,
		handler:  liquid.NewHandler(pip, s.platform, labware.Trash()),
		deck:     dk,
		magnet:   def.Magnet,
		mode:     Mode{TestMode: opts.TestMode},
		samples:  samples,
		report:   report,
	}
	logger := log.With().Str("protocol", def.ID).Int("columns", opts.Columns).Bool("test_mode", opts.TestMode).Logger()
	logger.Info().Msg("run start")

	report.enter(PhaseHoming)
	if err := s.platform.Home(ctx); err != nil {
		return report, fmt.Errorf("home: %w", err)
	}
	if def.Magnet != nil {
		if err := s.platform.Magnet().Disengage(ctx); err != nil {
			return report, fmt.Errorf("disengage: %w", err)
		}
	}

	for i, step := range def.Steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ev := Event{Index: i, Kind: step.Kind, Phase: step.Phase, Message: step.Message}
		if !opts.gate(step.Optional) {
			ev.Skipped = true
			report.Skipped++
			if opts.Observer != nil {
				opts.Observer(ev)
			}
			logger.Debug().Str("step", step.Label(i)).Str("gate", step.Optional).Msg("step skipped")
			continue
		}
		if opts.Observer != nil {
			opts.Observer(ev)
		}
		logger.Debug().Str("step", step.Label(i)).Str("phase", string(step.Phase)).Msg("step")
		phase := report.enter(step.Phase)
		ops, err := r.exec(ctx, step)
		if err != nil {
			logger.Error().Err(err).Str("step", step.Label(i)).Msg("run halted")
			return report, fmt.Errorf("%s: %w", step.Label(i), err)
		}
		phase.Steps++
		phase.SampleOps += ops
		report.Steps++
	}

	if pip.TipAttached() {
		if err := pip.DropTip(ctx); err != nil {
			return report, fmt.Errorf("final drop tip: %w", err)
		}
	}
	report.enter(PhaseDone)
	logger.Info().
		Int("steps", report.Steps).
		Int("transfers", report.Transfers).
		Dur("incubation", report.IncubationTotal).
		Msg("run complete")
	return report, nil
}

// exec runs one step and returns the per-sample operations it performed.
func (r *run) exec(ctx context.Context, s Step) (int, error) {
	n := len(r.samples)
	switch s.Kind {
	case StepComment:
		msg := s.Message
		if s.Box {
			msg = Box(msg)
		}
		return 0, r.platform.Comment(ctx, msg)
	case StepPause:
		return 0, r.platform.Pause(ctx, s.Message)
	case StepResuspend:
		return r.resuspend(ctx, s)
	case StepTransferAndMix:
		desc, err := r.reagent(s)
		if err != nil {
			return 0, err
		}
		return n, r.handler.TransferAndMix(ctx, desc, r.samples)
	case StepTransferWithResuspension:
		desc, err := r.reagent(s)
		if err != nil {
			return 0, err
		}
		rs := liquid.Resuspension{
			Sources:        r.deck.sources(desc),
			GroupStarts:    r.deck.groups(desc),
			Cadence:        s.Cadence,
			BlowOutInPlace: s.BlowOutInPlace,
		}
		return n, r.handler.TransferAndMixWithResuspension(ctx, desc, rs, r.samples)
	case StepEngage:
		return 0, r.engage(ctx, s.Duration, s.TestDuration, s.Message)
	case StepDisengage:
		return 0, r.platform.Magnet().Disengage(ctx)
	case StepDelay:
		if s.Message != "" {
			if err := r.platform.Comment(ctx, s.Message); err != nil {
				return 0, err
			}
		}
		return 0, r.incubate(ctx, s)
	case StepTrashSupernatant:
		sup := liquid.Supernatant{
			Volume:    s.Volume,
			Height:    s.Height,
			NoCushion: s.NoCushion,
			Purge:     s.Purge.purge(),
		}
		return n, r.handler.TrashSupernatant(ctx, sup, r.samples)
	case StepWash:
		return r.wash(ctx, s)
	case StepMixWells:
		reps := r.mode.Repetitions(s.Repetitions, s.TestMixRepetitions)
		return n, motion.MixWells(ctx, r.pip, r.samples, reps)
	case StepBlowAir:
		d := r.mode.Delay(s.Duration, s.TestDuration)
		return n, motion.BlowAir(ctx, r.pip, d, r.samples)
	case StepTransferEluate:
		dest, err := r.deck.labware.Get(s.Dest)
		if err != nil {
			return 0, err
		}
		return n, r.handler.TransferEluate(ctx, s.Volume, s.SourceHeight, r.samples, dest)
	default:
		return 0, fmt.Errorf("unknown kind %q", s.Kind)
	}
}

// reagent resolves the step's reagent with mix repetitions scaled for the
// run mode.
func (r *run) reagent(s Step) (reagents.Descriptor, error) {
	desc, err := r.deck.reagents.Lookup(s.Reagent)
	if err != nil {
		return reagents.Descriptor{}, err
	}
	test := s.TestMixRepetitions
	if test == 0 {
		test = r.deck.testReps[desc.Name]
	}
	desc.MixRepetitions = r.mode.Repetitions(desc.MixRepetitions, test)
	return desc, nil
}

// resuspend sweeps every reservoir the sample set draws from and keeps the
// tip for the transfer that follows.
func (r *run) resuspend(ctx context.Context, s Step) (int, error) {
	desc, err := r.deck.reagents.Lookup(s.Reagent)
	if err != nil {
		return 0, err
	}
	intensity, err := parseIntensity(s.Intensity)
	if err != nil {
		return 0, err
	}
	wells, err := r.deck.reservoirsFor(desc, r.samples)
	if err != nil {
		return 0, err
	}
	for _, w := range wells {
		if err := s.Sweep.Resuspend(ctx, r.pip, w, intensity); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// engage raises the magnet and lets the beads settle for the scaled
// duration.
func (r *run) engage(ctx context.Context, settle, test Duration, msg string) error {
	d := r.mode.Delay(settle, test)
	if settle.Duration > 0 {
		if msg == "" {
			msg = fmt.Sprintf("Activating magnet for %d seconds", int(settle.Seconds()))
		}
		if err := r.platform.Comment(ctx, msg); err != nil {
			return err
		}
	}
	if err := r.platform.Magnet().Engage(ctx, r.magnet.Height); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	return r.delay(ctx, d)
}

func (r *run) incubate(ctx context.Context, s Step) error {
	return r.delay(ctx, r.mode.Delay(s.Duration, s.TestDuration))
}

func (r *run) delay(ctx context.Context, d time.Duration) error {
	if err := r.platform.Delay(ctx, d); err != nil {
		return err
	}
	r.report.incubate(d)
	return nil
}

// wash repeats disengage, add, engage, settle, and remove with the same
// dedicated tips. The last repetition removes from FinalHeight.
func (r *run) wash(ctx context.Context, s Step) (int, error) {
	tips, err := r.deck.labware.TipRack(s.Tips)
	if err != nil {
		return 0, err
	}
	add := liquid.WashAdd{
		Samples:        r.samples,
		Tips:           tips,
		SourceHeight:   s.SourceHeight,
		Volume:         s.Volume,
		MixRepetitions: r.mode.Repetitions(s.MixRepetitions, s.TestMixRepetitions),
		FlowRate:       s.FlowRate,
	}
	if s.Source != "" {
		plate, err := r.deck.labware.Get(s.Source)
		if err != nil {
			return 0, err
		}
		add.Source = liquid.MatchingColumn(plate)
	} else {
		desc, err := r.deck.reagents.Lookup(s.Reagent)
		if err != nil {
			return 0, err
		}
		add.Source = r.deck.sources(desc)
		if add.SourceHeight == 0 {
			add.SourceHeight = desc.Draw().Offset
		}
	}
	removeVolume := s.RemoveVolume
	if removeVolume == 0 {
		removeVolume = s.Volume
	}
	finalHeight := s.FinalHeight
	if finalHeight == 0 {
		finalHeight = s.Height
	}

	ops := 0
	for rep := 0; rep < s.Repetitions; rep++ {
		last := rep == s.Repetitions-1
		log.Debug().Int("rep", rep+1).Int("of", s.Repetitions).Msg("wash")
		if err := r.platform.Magnet().Disengage(ctx); err != nil {
			return ops, err
		}
		if err := r.handler.AddWash(ctx, add); err != nil {
			return ops, err
		}
		if err := r.engage(ctx, s.Duration, s.TestDuration, ""); err != nil {
			return ops, err
		}
		height := s.Height
		if last {
			height = finalHeight
		}
		err := r.handler.RemoveWash(ctx, liquid.WashRemove{
			Samples:     r.samples,
			Tips:        tips,
			Volume:      removeVolume,
			Splits:      s.RemoveSplits,
			Height:      height,
			TrashOffset: s.TrashOffset,
			Purge:       s.Purge.purge(),
		})
		if err != nil {
			return ops, err
		}
		ops += 2 * len(r.samples)
	}
	return ops, nil
}
