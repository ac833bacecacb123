package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

var (
	ErrOutOfTips     = errors.New("sim: out of tips")
	ErrTipDiscarded  = errors.New("sim: tip already discarded")
	ErrOverCapacity  = errors.New("sim: tip over capacity")
	ErrInvalidHeight = errors.New("sim: invalid magnet height")
	ErrNotHomed      = errors.New("sim: gantry not homed")
)

// Op names recorded in the command journal.
const (
	OpHome        = "home"
	OpComment     = "comment"
	OpPause       = "pause"
	OpDelay       = "delay"
	OpPickUpTip   = "pick_up_tip"
	OpDropTip     = "drop_tip"
	OpReturnTip   = "return_tip"
	OpAspirate    = "aspirate"
	OpDispense    = "dispense"
	OpMix         = "mix"
	OpBlowOut     = "blow_out"
	OpTransfer    = "transfer"
	OpMoveTo      = "move_to"
	OpSetFlowRate = "set_flow_rate"
	OpEngage      = "engage"
	OpDisengage   = "disengage"
)

// Command is one journaled platform call.
type Command struct {
	Seq         int                   `json:"seq"`
	Op          string                `json:"op"`
	Volume      float64               `json:"volume,omitempty"`
	Location    labware.Location      `json:"location,omitempty"`
	Dest        labware.Location      `json:"dest,omitempty"`
	Rate        float64               `json:"rate,omitempty"`
	Repetitions int                   `json:"repetitions,omitempty"`
	FlowRate    robot.FlowRate        `json:"flow_rate,omitempty"`
	Duration    time.Duration         `json:"duration,omitempty"`
	Height      float64               `json:"height,omitempty"`
	Tip         labware.Well          `json:"tip,omitempty"`
	Message     string                `json:"message,omitempty"`
	Options     robot.TransferOptions `json:"options,omitempty"`
	Trips       int                   `json:"trips,omitempty"`
	Strategy    robot.MoveStrategy    `json:"strategy,omitempty"`
	Elapsed     time.Duration         `json:"elapsed"`
}

// Config shapes the simulated deck hardware.
type Config struct {
	MaxVolume   float64 // pipette capacity in µl
	TipCapacity float64 // tip capacity in µl
	TipRacks    int     // racks available to PickUpTip, 12 column pick-ups each
}

// DefaultConfig matches an 8-channel P300 with six 200 µl filter tip racks.
func DefaultConfig() Config {
	return Config{MaxVolume: 300, TipCapacity: 200, TipRacks: 6}
}

// Stats are running totals over the journal.
type Stats struct {
	TipPickUps int
	TipDrops   int
	TipReturns int
	Transfers  int
	Delays     []time.Duration
	Elapsed    time.Duration
}

// Platform is a deterministic in-process robot. Delays advance a virtual
// clock instead of sleeping.
type Platform struct {
	mu  sync.Mutex
	cfg Config

	homed    bool
	journal  []Command
	stats    Stats
	flow     robot.FlowRate
	magnet   robot.MagnetStatus
	elapsed  time.Duration
	nextTip  int
	held     *heldTip
	contents float64
	used     map[string]bool
	pausedFn func(msg string) error
}

type heldTip struct {
	well labware.Well
}

var _ robot.Platform = (*Platform)(nil)

// New constructs a simulated platform.
func New(cfg Config) *Platform {
	def := DefaultConfig()
	if cfg.MaxVolume <= 0 {
		cfg.MaxVolume = def.MaxVolume
	}
	if cfg.TipCapacity <= 0 {
		cfg.TipCapacity = def.TipCapacity
	}
	if cfg.TipRacks <= 0 {
		cfg.TipRacks = def.TipRacks
	}
	return &Platform{
		cfg:  cfg,
		flow: robot.DefaultFlowRate,
		used: make(map[string]bool),
	}
}

// OnPause installs an operator hook. Without one, pauses resume at once.
func (p *Platform) OnPause(fn func(msg string) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pausedFn = fn
}

// Journal returns a copy of every recorded command.
func (p *Platform) Journal() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Command, len(p.journal))
	copy(out, p.journal)
	return out
}

// Stats returns the running totals.
func (p *Platform) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.Delays = append([]time.Duration(nil), p.stats.Delays...)
	out.Elapsed = p.elapsed
	return out
}

// Count returns how many journal entries carry op.
func (p *Platform) Count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.journal {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Touched lists distinct well names a location referenced, per labware.
func (p *Platform) Touched(labwareLabel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	add := func(loc labware.Location) {
		if loc.IsZero() || loc.Well.Labware != labwareLabel || seen[loc.Well.Name] {
			return
		}
		seen[loc.Well.Name] = true
		out = append(out, loc.Well.Name)
	}
	for _, c := range p.journal {
		add(c.Location)
		add(c.Dest)
	}
	return out
}

func (p *Platform) record(cmd Command) {
	cmd.Seq = len(p.journal) + 1
	cmd.Elapsed = p.elapsed
	p.journal = append(p.journal, cmd)
	log.Trace().
		Int("seq", cmd.Seq).
		Str("op", cmd.Op).
		Str("location", cmd.Location.String()).
		Float64("volume", cmd.Volume).
		Msg("sim command")
}

func (p *Platform) advance(d time.Duration) {
	if d > 0 {
		p.elapsed += d
	}
}

func (p *Platform) liquidTime(volume, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(volume / rate * float64(time.Second))
}

func (p *Platform) capacity() float64 {
	return math.Min(p.cfg.MaxVolume, p.cfg.TipCapacity)
}

func (p *Platform) checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.homed {
		return ErrNotHomed
	}
	return nil
}

// Home homes the gantry. Every other motion requires it.
func (p *Platform) Home(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.homed = true
	p.record(Command{Op: OpHome})
	return nil
}

// Comment records an operator-facing message.
func (p *Platform) Comment(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Command{Op: OpComment, Message: msg})
	log.Info().Str("comment", strings.TrimSpace(msg)).Msg("robot comment")
	return nil
}

// Pause records a pause and calls the operator hook if installed.
func (p *Platform) Pause(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.record(Command{Op: OpPause, Message: msg})
	fn := p.pausedFn
	p.mu.Unlock()
	if fn != nil {
		return fn(msg)
	}
	return nil
}

// Delay advances the virtual clock.
func (p *Platform) Delay(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Command{Op: OpDelay, Duration: d})
	p.stats.Delays = append(p.stats.Delays, d)
	p.advance(d)
	return nil
}

// Pipette returns the simulated head.
func (p *Platform) Pipette() robot.Pipette {
	return (*pipette)(p)
}

// Magnet returns the simulated magnetic module.
func (p *Platform) Magnet() robot.MagneticModule {
	return (*magnet)(p)
}

type magnet Platform

func (m *magnet) Engage(ctx context.Context, height float64) error {
	p := (*Platform)(m)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkCtx(ctx); err != nil {
		return err
	}
	if height <= 0 || height > 25 {
		return fmt.Errorf("%w: %g", ErrInvalidHeight, height)
	}
	p.magnet = robot.MagnetStatus{Engaged: true, Height: height}
	p.record(Command{Op: OpEngage, Height: height})
	return nil
}

func (m *magnet) Disengage(ctx context.Context) error {
	p := (*Platform)(m)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	p.magnet = robot.MagnetStatus{}
	p.record(Command{Op: OpDisengage})
	return nil
}

func (m *magnet) Status() robot.MagnetStatus {
	p := (*Platform)(m)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.magnet
}
