package timer

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Kind identifies the variant held by a Task.
type Kind uint8

const (
	KindNone Kind = iota
	KindDelay
	KindTicks
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindDelay:
		return "delay"
	case KindTicks:
		return "ticks"
	case KindCron:
		return "cron"
	default:
		return "none"
	}
}

// Step describes one tick as seen by the tasks of a phase.
type Step struct {
	// Frame is the host frame counter. A new value starts a new frame.
	Frame uint64
	// Delta is the scaled time since the previous tick of the same phase.
	Delta time.Duration
	// UnscaledDelta is Delta before the host time scale was applied.
	UnscaledDelta time.Duration
	// Now is the host clock at the start of the frame.
	Now time.Time
}

type flags uint8

const (
	flagPaused flags = 1 << iota
	flagCancelled
	flagCompleted
)

// DelayOptions configures a time-based task.
type DelayOptions struct {
	// OnStep receives the accumulated elapsed time after every update.
	OnStep func(elapsed time.Duration)
	// OnDone runs each time the threshold is reached.
	OnDone func()
	Loop   bool
	// IgnoreTimeScale accumulates Step.UnscaledDelta instead of Step.Delta.
	IgnoreTimeScale bool
}

// TicksOptions configures a tick-count task.
type TicksOptions struct {
	OnStep func(ticks int)
	OnDone func()
	Loop   bool
}

// CronOptions configures a calendar task.
type CronOptions struct {
	// OnFire receives the activation time that was reached.
	OnFire func(at time.Time)
}

// Task is a scheduled operation. It is a plain value: the variant is selected by
// Kind and only the fields of that variant are meaningful.
//
// The zero Task has KindNone and is always done.
type Task struct {
	kind  Kind
	flags flags
	loop  bool

	// KindDelay
	unscaled  bool
	elapsed   time.Duration
	threshold time.Duration
	onElapsed func(time.Duration)

	// KindTicks
	ticks  int
	target int
	onTick func(int)

	// KindCron
	sched  cron.Schedule
	next   time.Time
	onFire func(time.Time)

	onDone func()
}

// Delay returns a task that completes once d of tick time has accumulated.
func Delay(d time.Duration, opt DelayOptions) Task {
	if d < 0 {
		d = 0
	}
	return Task{
		kind:      KindDelay,
		loop:      opt.Loop,
		unscaled:  opt.IgnoreTimeScale,
		threshold: d,
		onElapsed: opt.OnStep,
		onDone:    opt.OnDone,
	}
}

// Ticks returns a task that completes after n updates.
func Ticks(n int, opt TicksOptions) Task {
	if n < 1 {
		n = 1
	}
	return Task{
		kind:   KindTicks,
		loop:   opt.Loop,
		target: n,
		onTick: opt.OnStep,
		onDone: opt.OnDone,
	}
}

// Cron returns a repeating task driven by a cron schedule evaluated against Step.Now.
func Cron(s cron.Schedule, opt CronOptions) Task {
	return Task{
		kind:   KindCron,
		loop:   true,
		sched:  s,
		onFire: opt.OnFire,
	}
}

func (t *Task) Kind() Kind { return t.kind }

func (t *Task) IsPaused() bool    { return t.flags&flagPaused != 0 }
func (t *Task) IsCancelled() bool { return t.flags&flagCancelled != 0 }
func (t *Task) IsCompleted() bool { return t.flags&flagCompleted != 0 }

// IsDone reports whether the task will never fire again.
func (t *Task) IsDone() bool {
	return t.kind == KindNone || t.flags&(flagCancelled|flagCompleted) != 0
}

// Elapsed returns the accumulated progress of a delay task.
func (t *Task) Elapsed() time.Duration { return t.elapsed }

// TickCount returns the accumulated progress of a tick task.
func (t *Task) TickCount() int { return t.ticks }

// Next returns the pending activation of a cron task (zero until first update).
func (t *Task) Next() time.Time { return t.next }

func (t *Task) Cancel() { t.flags |= flagCancelled }

// Pause stops accumulating progress. Progress already made is kept.
func (t *Task) Pause() { t.flags |= flagPaused }

func (t *Task) Resume() {
	if t.flags&flagPaused == 0 {
		return
	}
	t.flags &^= flagPaused
	if t.kind == KindCron {
		// activations missed while paused are dropped
		t.next = time.Time{}
	}
}

// Dispose drops the callbacks so a freed task keeps nothing alive.
func (t *Task) Dispose() {
	t.onElapsed = nil
	t.onTick = nil
	t.onFire = nil
	t.onDone = nil
	t.sched = nil
}

// Outcome is what a single Update produced. Update does not run callbacks; the
// caller runs them through Callbacks once it no longer holds a reference into storage.
type Outcome struct {
	Stepped bool
	Fired   bool
	Elapsed time.Duration
	Ticks   int
	At      time.Time
}

// Update advances the task by one tick. It is a no-op when the task is done or
// paused.
func (t *Task) Update(s Step) Outcome {
	if t.IsDone() || t.IsPaused() {
		return Outcome{}
	}
	switch t.kind {
	case KindDelay:
		if t.unscaled {
			t.elapsed += s.UnscaledDelta
		} else {
			t.elapsed += s.Delta
		}
		o := Outcome{Stepped: true, Elapsed: t.elapsed}
		if t.elapsed >= t.threshold {
			o.Fired = true
			t.finish()
			t.elapsed = 0
		}
		return o
	case KindTicks:
		t.ticks++
		o := Outcome{Stepped: true, Ticks: t.ticks}
		if t.ticks >= t.target {
			o.Fired = true
			t.finish()
			t.ticks = 0
		}
		return o
	case KindCron:
		if t.sched == nil {
			t.flags |= flagCompleted
			return Outcome{}
		}
		if t.next.IsZero() {
			t.next = t.sched.Next(s.Now)
			if t.next.IsZero() {
				t.flags |= flagCompleted
			}
			return Outcome{Stepped: true}
		}
		if s.Now.Before(t.next) {
			return Outcome{Stepped: true}
		}
		o := Outcome{Stepped: true, Fired: true, At: t.next}
		t.next = t.sched.Next(s.Now)
		if t.next.IsZero() {
			t.flags |= flagCompleted
		}
		return o
	}
	return Outcome{}
}

func (t *Task) finish() {
	if !t.loop {
		t.flags |= flagCompleted
	}
}

// Callbacks are the user functions of a task, detached from the task value.
type Callbacks struct {
	kind      Kind
	onElapsed func(time.Duration)
	onTick    func(int)
	onFire    func(time.Time)
	onDone    func()
}

func (t *Task) Callbacks() Callbacks {
	return Callbacks{
		kind:      t.kind,
		onElapsed: t.onElapsed,
		onTick:    t.onTick,
		onFire:    t.onFire,
		onDone:    t.onDone,
	}
}

// Step runs the per-step callback for o, if any.
func (c Callbacks) Step(o Outcome) {
	if !o.Stepped {
		return
	}
	switch c.kind {
	case KindDelay:
		if c.onElapsed != nil {
			c.onElapsed(o.Elapsed)
		}
	case KindTicks:
		if c.onTick != nil {
			c.onTick(o.Ticks)
		}
	}
}

// Done runs the completion callback for o, if o fired.
func (c Callbacks) Done(o Outcome) {
	if !o.Fired {
		return
	}
	if c.kind == KindCron {
		if c.onFire != nil {
			c.onFire(o.At)
		}
		return
	}
	if c.onDone != nil {
		c.onDone()
	}
}

// Tick updates the task and runs its callbacks in order: per-step first, then
// completion. It is meant for tasks owned directly by the caller; the scheduler
// uses Update and Callbacks separately.
func (t *Task) Tick(s Step) Outcome {
	o := t.Update(s)
	cb := t.Callbacks()
	cb.Step(o)
	cb.Done(o)
	return o
}
