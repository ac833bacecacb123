package liquid

import "github.com/danmuck/pipetctl/internal/motion"

// Cadence decides how hard to resuspend a bead reservoir before the draw
// for sample index i. The zero Cadence never resuspends.
type Cadence struct {
	// FullEvery gives every Nth draw, counting from the first, a full sweep.
	FullEvery int `toml:"full_every" json:"full_every"`

	// GroupStart gives the first draw from each reservoir a full sweep.
	GroupStart bool `toml:"group_start" json:"group_start"`

	// Lite gives every other draw a lite sweep.
	Lite bool `toml:"lite" json:"lite"`

	// SkipFirst downgrades the first draw when a full resuspension step
	// already ran just before.
	SkipFirst bool `toml:"skip_first" json:"skip_first"`

	// Sweep tunes the depths of both passes.
	Sweep motion.Profile `toml:"sweep" json:"sweep"`
}

// For returns the sweep for index i, or false when none is due. groupStart
// reports whether i is the first draw from its reservoir.
func (c Cadence) For(i int, groupStart bool) (motion.Intensity, bool) {
	full := (c.FullEvery > 0 && i%c.FullEvery == 0) || (c.GroupStart && groupStart)
	if full && !(i == 0 && c.SkipFirst) {
		return motion.Full, true
	}
	if c.Lite {
		return motion.Lite, true
	}
	return 0, false
}

// IsZero reports whether the cadence never resuspends.
func (c Cadence) IsZero() bool {
	return c.FullEvery <= 0 && !c.GroupStart && !c.Lite
}
