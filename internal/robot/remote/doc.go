// Package remote carries the robot capability set over TCP.
//
// Ownership boundary:
// - newline-delimited JSON request/response envelopes
// - Client, a robot.Platform backed by a bridge connection
// - Bridge, which applies requests to any local robot.Platform
//
// Sentinel errors from the robot package survive the round trip.
package remote
