// Package station serves the pipetctl HTTP API.
//
// Ownership boundary:
// - one active run at a time per station
//
// - run lifecycle: journal, metrics, cancellation
//
// - protocol listing and setup recaps
//
// Lifecycle order:
// 1. New wires registry, journal, and platform factory
// 2. Serve starts the HTTP listener
// 3. POST /runs opens a platform and runs the sequencer in the background
// 4. Serve returns after canceling the active run and draining it
package station
