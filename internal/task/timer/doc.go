// Package timer defines the operations the frame scheduler can run.
//
// A Task is a closed union over three kinds:
//   - Delay: completes when accumulated tick time reaches a threshold
//   - Ticks: completes after a number of updates
//   - Cron:  fires whenever the host clock reaches the next cron activation
//
// Tasks are plain values so they can be stored inline in slot storage. Update
// only advances state; callbacks are run separately (see Callbacks) so the
// owner can release any reference into its storage before user code executes.
package timer
