// Package logx is framesched's structured logging: a value-type Logger over
// zerolog whose sinks (console, JSON file, forward) live in a Service and can
// be swapped at runtime with Service.Apply.
//
// The forward sink decodes records at or above a minimum level, rate limits
// them and hands them to a Forwarder on a worker goroutine. The app uses it
// to persist warnings into the trace store.
package logx
