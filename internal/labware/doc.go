// Package labware owns the deck model.
//
// Ownership boundary:
// - labware definitions and deck slot assignment
// - well addressing and pipetting locations
// - sample set construction
//
// Wells are values. Once resolved from a Registry they never change.
package labware
