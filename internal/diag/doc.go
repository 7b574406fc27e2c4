// Package diag keeps out-of-band diagnostics for the scheduler.
//
// Registry implements scheduler.Hooks: it remembers where every live task was
// registered from and publishes task events on the bus. Recorder drains the bus
// into the trace store.
package diag
