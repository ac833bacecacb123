// Package reagents owns the per-run reagent configuration.
//
// Ownership boundary:
// - reagent descriptors and their validation
// - insertion-ordered reagent table keyed by name
// - reservoir partition tables for reagents split across equal wells
//
// Descriptors are read-only once the table is built.
package reagents
