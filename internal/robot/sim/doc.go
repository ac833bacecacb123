// Package sim is a deterministic in-process robot.
//
// Ownership boundary:
// - command journal for every platform call
// - tip state, tip rack consumption, and dedicated tip returns
// - flow rate and magnet state
// - virtual clock (delays never sleep)
//
// The simulator enforces the same preconditions a real head would: homing
// before motion, one tip at a time, and tip capacity.
package sim
