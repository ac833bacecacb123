// Package liquid composes motion routines and reagent descriptors into one
// liquid-handling step per sample.
//
// Ownership boundary:
// - reagent addition with mixing, with and without reservoir resuspension
// - supernatant removal to the trash with bubble purging
// - wash addition and removal through dedicated per-column tips
// - eluate transfer to the output plate
//
// Every operation touches each sample exactly once and in order.
package liquid
