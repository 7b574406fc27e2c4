package timer

import (
	"slices"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestTicksLoopScenario(t *testing.T) {
	t.Parallel()
	var steps []int
	done := 0
	task := Ticks(3, TicksOptions{
		OnStep: func(n int) { steps = append(steps, n) },
		OnDone: func() { done++ },
		Loop:   true,
	})
	for i := 0; i < 7; i++ {
		task.Tick(Step{Frame: uint64(i + 1)})
	}
	if done != 2 {
		t.Fatalf("completions = %d, want 2", done)
	}
	if want := []int{1, 2, 3, 1, 2, 3, 1}; !slices.Equal(steps, want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	if task.IsDone() {
		t.Fatal("looping task must not complete")
	}
}

func TestDelayLoopScenario(t *testing.T) {
	t.Parallel()
	var steps []time.Duration
	done := 0
	task := Delay(3*time.Second, DelayOptions{
		OnStep: func(d time.Duration) { steps = append(steps, d) },
		OnDone: func() { done++ },
		Loop:   true,
	})
	for i := 0; i < 7; i++ {
		task.Tick(Step{Delta: time.Second})
	}
	want := []time.Duration{1, 2, 3, 1, 2, 3, 1}
	for i := range want {
		want[i] *= time.Second
	}
	if done != 2 || !slices.Equal(steps, want) {
		t.Fatalf("done=%d steps=%v; want 2 %v", done, steps, want)
	}
	if task.Elapsed() != time.Second {
		t.Fatalf("Elapsed = %v, want 1s", task.Elapsed())
	}
}

func TestOneShotCompletesAndStops(t *testing.T) {
	t.Parallel()
	done := 0
	task := Ticks(2, TicksOptions{OnDone: func() { done++ }})
	for i := 0; i < 5; i++ {
		task.Tick(Step{})
	}
	if done != 1 || !task.IsCompleted() || !task.IsDone() {
		t.Fatalf("done=%d completed=%v", done, task.IsCompleted())
	}
	if o := task.Update(Step{}); o.Stepped || o.Fired {
		t.Fatalf("update after completion = %+v, want no-op", o)
	}
}

func TestPauseKeepsProgress(t *testing.T) {
	t.Parallel()
	fired := false
	task := Delay(3*time.Second, DelayOptions{OnDone: func() { fired = true }})
	task.Tick(Step{Delta: time.Second})
	task.Pause()
	task.Tick(Step{Delta: time.Second})
	task.Tick(Step{Delta: time.Second})
	if task.Elapsed() != time.Second || fired {
		t.Fatalf("paused task advanced: elapsed=%v fired=%v", task.Elapsed(), fired)
	}
	task.Resume()
	task.Tick(Step{Delta: time.Second})
	task.Tick(Step{Delta: time.Second})
	if !fired || !task.IsCompleted() {
		t.Fatalf("resumed task did not fire: elapsed=%v", task.Elapsed())
	}
}

func TestIgnoreTimeScale(t *testing.T) {
	t.Parallel()
	scaled := Delay(2*time.Second, DelayOptions{})
	unscaled := Delay(2*time.Second, DelayOptions{IgnoreTimeScale: true})
	// host time scale of zero
	s := Step{Delta: 0, UnscaledDelta: time.Second}
	for i := 0; i < 2; i++ {
		scaled.Tick(s)
		unscaled.Tick(s)
	}
	if scaled.IsDone() {
		t.Fatal("scaled delay completed with zero scaled delta")
	}
	if !unscaled.IsDone() {
		t.Fatalf("unscaled delay not completed: elapsed=%v", unscaled.Elapsed())
	}
}

func TestPausedIgnoringTimeScaleAccumulatesNothing(t *testing.T) {
	t.Parallel()
	task := Delay(2*time.Second, DelayOptions{IgnoreTimeScale: true})
	task.Pause()
	task.Tick(Step{UnscaledDelta: 5 * time.Second})
	if task.Elapsed() != 0 {
		t.Fatalf("Elapsed = %v, want 0", task.Elapsed())
	}
	task.Resume()
	task.Tick(Step{UnscaledDelta: time.Second})
	if task.Elapsed() != time.Second || task.IsDone() {
		t.Fatalf("resume must not catch up: elapsed=%v", task.Elapsed())
	}
}

func TestCancelStopsCallbacks(t *testing.T) {
	t.Parallel()
	calls := 0
	task := Ticks(1, TicksOptions{OnStep: func(int) { calls++ }, OnDone: func() { calls++ }})
	task.Cancel()
	task.Tick(Step{})
	if calls != 0 || !task.IsCancelled() || !task.IsDone() {
		t.Fatalf("calls=%d cancelled=%v", calls, task.IsCancelled())
	}
}

func TestZeroTaskIsDone(t *testing.T) {
	t.Parallel()
	var task Task
	if !task.IsDone() || task.Kind() != KindNone {
		t.Fatal("zero Task must be done")
	}
	if o := task.Update(Step{}); o.Stepped {
		t.Fatal("zero Task must not step")
	}
}

func TestCronFiresOnActivation(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var fired []time.Time
	task := Cron(cron.Every(2*time.Second), CronOptions{OnFire: func(at time.Time) { fired = append(fired, at) }})

	for _, off := range []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 4500 * time.Millisecond} {
		task.Tick(Step{Now: base.Add(off)})
	}
	want := []time.Time{base.Add(2 * time.Second), base.Add(4 * time.Second)}
	if !slices.EqualFunc(fired, want, time.Time.Equal) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	if task.IsDone() {
		t.Fatal("cron task must keep running")
	}
}

func TestCronResumeDropsMissedActivations(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	task := Cron(cron.Every(time.Second), CronOptions{OnFire: func(time.Time) { n++ }})
	task.Tick(Step{Now: base})
	task.Pause()
	task.Tick(Step{Now: base.Add(10 * time.Second)})
	task.Resume()
	task.Tick(Step{Now: base.Add(10 * time.Second)})
	if n != 0 {
		t.Fatalf("missed activations fired %d times", n)
	}
	task.Tick(Step{Now: base.Add(11 * time.Second)})
	if n != 1 {
		t.Fatalf("fired %d times after resume, want 1", n)
	}
}

func TestDisposeDropsCallbacks(t *testing.T) {
	t.Parallel()
	n := 0
	task := Ticks(1, TicksOptions{OnDone: func() { n++ }, Loop: true})
	task.Dispose()
	task.Tick(Step{})
	if n != 0 {
		t.Fatal("disposed task ran a callback")
	}
}
