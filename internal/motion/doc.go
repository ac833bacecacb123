// Package motion holds the pipetting choreography routines.
//
// Ownership boundary:
// - scoped flow-rate changes on the shared pipetting head
// - bead resuspension sweeps (full and lite, depths tunable per protocol)
// - foam-breaking well mixing
// - air blowing over drying pellets
//
// Routines acquire a tip when none is held. Except for BlowAir they never
// release it; the caller owns the tip lifecycle.
package motion
