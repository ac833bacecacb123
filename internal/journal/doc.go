// Package journal persists run history.
//
// Ownership boundary:
// - run records keyed by uuid
//
// - per-step records in execution order
//
// - the final report of each run
//
// Journal does not drive the platform. It observes a run through
// protocol.Observer and the report returned at the end.
package journal
