// Package host drives a scheduler.Runner from a paced frame loop.
//
// Each frame runs PhaseEarly once with the scaled frame delta, PhasePhysics
// zero or more times with a fixed step taken from an accumulator, and
// PhaseLate once. Queued work (registrations from other goroutines, config
// changes) runs between frames so the Runner is only ever touched from the
// loop goroutine.
package host
