// Package robot owns the capability boundary to the liquid-handling platform.
//
// Ownership boundary:
// - pipette, magnetic module, and controller capability interfaces
// - transfer options and tip policies
// - flow-rate values
//
// Motion planning and calibration stay with the platform. Errors returned
// by a Platform are hardware or motion faults; callers do not retry them.
package robot
