// Package protocol owns declarative extraction protocols and their
// execution.
//
// Ownership boundary:
// - TOML definitions and the builtin variants
//
// - deck construction from a definition
//
// - step sequencing, test-mode scaling, and the run report
//
// Lifecycle order:
// - validate -> build deck -> home -> disengage -> steps -> done
//
// - nothing touches the platform until the run options and the definition
// have been validated.
//
// Protocol does not own motion. Every liquid movement goes through
// internal/liquid or internal/motion.
package protocol
