package scheduler

import (
	"slices"
	"time"

	"framesched/internal/task/timer"
)

// Delay registers a time-based task.
func (r *Runner) Delay(d time.Duration, phase Phase, opt timer.DelayOptions) (Handle, error) {
	return r.Register(timer.Delay(d, opt), phase)
}

// Ticks registers a task that completes after n updates of phase.
func (r *Runner) Ticks(n int, phase Phase, opt timer.TicksOptions) (Handle, error) {
	return r.Register(timer.Ticks(n, opt), phase)
}

// Schedule parses spec and registers either a cron or a looping interval task.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * * *", "55 * * * *", "@hourly", "@every 2s"
//   - Interval duration: "1500ms", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (r *Runner) Schedule(spec string, phase Phase, fn func()) (Handle, error) {
	t, err := timer.FromSchedule(spec, fn)
	if err != nil {
		r.reportRegisterError(phase, err)
		return Handle{}, err
	}
	return r.Register(t, phase)
}

// Cancel stops the item behind h. The handle reads as done immediately; an
// active item cancelled during a sweep is released by that sweep.
func (r *Runner) Cancel(h Handle) {
	e := r.lookup(h)
	if e == nil {
		return
	}
	e.task.Cancel()
	switch e.state {
	case statePending:
		if i := slices.Index(r.pending, h); i >= 0 {
			r.pending = slices.Delete(r.pending, i, i+1)
		}
		r.free(h, e, ReasonCancelled)
	case stateActive:
		if r.iterating {
			return
		}
		if i := slices.Index(r.active, h); i >= 0 {
			r.active = slices.Delete(r.active, i, i+1)
		}
		r.free(h, e, ReasonCancelled)
	}
}

// Pause stops h from accumulating progress.
func (r *Runner) Pause(h Handle) {
	if e := r.lookup(h); e != nil {
		e.task.Pause()
	}
}

// Resume lets a paused item accumulate progress again from the next update.
func (r *Runner) Resume(h Handle) {
	if e := r.lookup(h); e != nil {
		e.task.Resume()
	}
}

// IsDone reports whether h will never fire again. Stale handles are done.
func (r *Runner) IsDone(h Handle) bool {
	e := r.lookup(h)
	return e == nil || e.task.IsDone()
}

func (r *Runner) IsPaused(h Handle) bool {
	e := r.lookup(h)
	return e != nil && e.task.IsPaused()
}

// CancelAll cancels every pending and active item, with the same deferral
// rule as Cancel.
func (r *Runner) CancelAll() {
	for _, h := range r.handles() {
		r.Cancel(h)
	}
}

func (r *Runner) PauseAll() {
	for _, h := range r.handles() {
		r.Pause(h)
	}
}

func (r *Runner) ResumeAll() {
	for _, h := range r.handles() {
		r.Resume(h)
	}
}

// Len returns the number of live items, pending included.
func (r *Runner) Len() int { return len(r.pending) + len(r.active) }

// handles returns a copy of the pending and active lists, so callers may
// cancel while ranging over it.
func (r *Runner) handles() []Handle {
	out := make([]Handle, 0, len(r.pending)+len(r.active))
	out = append(out, r.pending...)
	return append(out, r.active...)
}
