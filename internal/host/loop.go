package host

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"framesched/internal/eventbus"
	"framesched/internal/task/scheduler"
	"framesched/internal/task/timer"
	logx "framesched/pkg/logx"
)

var ErrStopped = errors.New("host: loop stopped")

// Config controls frame pacing and the fixed physics step.
type Config struct {
	FrameRate     int
	FixedStep     time.Duration
	MaxFixedSteps int
	// TimeScale multiplies real time into task time. Values <= 0 mean 1.
	TimeScale float64
	// OverrunBudget is the frame duration above which an overrun is reported.
	// Zero means one frame period.
	OverrunBudget time.Duration
}

func DefaultConfig() Config {
	return Config{FrameRate: 60, FixedStep: 20 * time.Millisecond, MaxFixedSteps: 5, TimeScale: 1}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.FrameRate <= 0 {
		c.FrameRate = d.FrameRate
	}
	if c.FixedStep <= 0 {
		c.FixedStep = d.FixedStep
	}
	if c.MaxFixedSteps <= 0 {
		c.MaxFixedSteps = d.MaxFixedSteps
	}
	if c.TimeScale <= 0 {
		c.TimeScale = d.TimeScale
	}
	if c.OverrunBudget <= 0 {
		c.OverrunBudget = time.Second / time.Duration(c.FrameRate)
	}
	return c
}

// Stats are cumulative loop counters.
type Stats struct {
	Frames       uint64 `json:"frames"`
	Overruns     uint64 `json:"overruns"`
	DroppedSteps uint64 `json:"dropped_steps"`
}

// Loop owns the frame goroutine. Every Runner call happens inside Run, either
// from a phase sweep or from a function queued with Do.
type Loop struct {
	log    logx.Logger
	runner *scheduler.Runner
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	queue   chan func(*scheduler.Runner)
	done    chan struct{}

	frame uint64
	last  time.Time
	acc   time.Duration

	snapEvery uint64
	snap      atomic.Pointer[scheduler.Snapshot]

	frames       atomic.Uint64
	overruns     atomic.Uint64
	droppedSteps atomic.Uint64
}

func New(cfg Config, runner *scheduler.Runner, bus eventbus.Bus, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.normalized()
	return &Loop{
		log:       log,
		runner:    runner,
		bus:       bus,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.FrameRate), 1),
		queue:     make(chan func(*scheduler.Runner), 64),
		done:      make(chan struct{}),
		snapEvery: uint64(cfg.FrameRate),
	}
}

func (l *Loop) Config() Config { return l.cfg }

// Snapshot returns the latest published runner snapshot, nil before the first
// frame. Items are refreshed about once per second.
func (l *Loop) Snapshot() *scheduler.Snapshot { return l.snap.Load() }

func (l *Loop) Stats() Stats {
	return Stats{
		Frames:       l.frames.Load(),
		Overruns:     l.overruns.Load(),
		DroppedSteps: l.droppedSteps.Load(),
	}
}

// Do queues fn to run on the frame goroutine before the next frame. It blocks
// only while the queue is full.
func (l *Loop) Do(ctx context.Context, fn func(*scheduler.Runner)) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.queue <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply queues a host and scheduler reconfiguration for the next frame boundary.
func (l *Loop) Apply(ctx context.Context, cfg Config, sched scheduler.Config) error {
	return l.Do(ctx, func(r *scheduler.Runner) {
		l.applyHost(cfg)
		r.Apply(sched)
	})
}

func (l *Loop) applyHost(cfg Config) {
	cfg = cfg.normalized()
	if cfg == l.cfg {
		return
	}
	if cfg.FrameRate != l.cfg.FrameRate {
		l.limiter.SetLimit(rate.Limit(cfg.FrameRate))
		l.snapEvery = uint64(cfg.FrameRate)
	}
	l.cfg = cfg
	l.log.Info("host config applied",
		logx.Int("frame_rate", cfg.FrameRate),
		logx.Duration("fixed_step", cfg.FixedStep),
		logx.Int("max_fixed_steps", cfg.MaxFixedSteps),
		logx.Float64("time_scale", cfg.TimeScale),
	)
}

// Run paces frames until ctx is done, then closes the runner.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		close(l.done)
		l.drain()
		l.runner.Close()
		s := l.runner.Snapshot(false)
		l.snap.Store(&s)
		l.log.Info("frame loop stopped", logx.Uint64("frames", l.frames.Load()))
	}()
	l.log.Info("frame loop started",
		logx.Int("frame_rate", l.cfg.FrameRate),
		logx.Duration("fixed_step", l.cfg.FixedStep),
	)
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.drain()
		l.Frame(time.Now())
	}
}

// drain runs every queued function.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.queue:
			if fn != nil {
				fn(l.runner)
			}
		default:
			return
		}
	}
}

// Frame advances one frame with the host clock at now: PhaseEarly once,
// PhasePhysics once per fixed step owed, PhaseLate once. Run calls it; tests
// drive it directly with a synthetic clock.
func (l *Loop) Frame(now time.Time) {
	start := time.Now()
	l.frame++
	cfg := l.cfg

	var elapsed time.Duration
	if !l.last.IsZero() {
		elapsed = max(now.Sub(l.last), 0)
	}
	l.last = now
	scaled := time.Duration(float64(elapsed) * cfg.TimeScale)

	step := timer.Step{Frame: l.frame, Delta: scaled, UnscaledDelta: elapsed, Now: now}
	l.runner.Update(scheduler.PhaseEarly, step)

	l.acc += scaled
	fixed := timer.Step{
		Frame:         l.frame,
		Delta:         cfg.FixedStep,
		UnscaledDelta: time.Duration(float64(cfg.FixedStep) / cfg.TimeScale),
		Now:           now,
	}
	n := 0
	for l.acc >= cfg.FixedStep && n < cfg.MaxFixedSteps {
		l.runner.Update(scheduler.PhasePhysics, fixed)
		l.acc -= cfg.FixedStep
		n++
	}
	dropped := 0
	if l.acc >= cfg.FixedStep {
		// spiral-of-death guard: forget the steps we cannot catch up on
		dropped = int(l.acc / cfg.FixedStep)
		l.acc -= time.Duration(dropped) * cfg.FixedStep
		l.droppedSteps.Add(uint64(dropped))
	}

	l.runner.Update(scheduler.PhaseLate, step)

	s := l.runner.Snapshot(l.snapEvery == 0 || l.frame%l.snapEvery == 1)
	if prev := l.snap.Load(); prev != nil && s.Items == nil {
		s.Items = prev.Items
	}
	l.snap.Store(&s)
	l.frames.Add(1)

	if took := time.Since(start); took > cfg.OverrunBudget || dropped > 0 {
		l.overruns.Add(1)
		l.log.Debug("frame overrun",
			logx.Uint64("frame", l.frame),
			logx.Duration("took", took),
			logx.Int("dropped_steps", dropped),
		)
		if l.bus != nil {
			l.bus.Publish(eventbus.Event{
				Type: eventbus.TypeFrameOverrun,
				Data: eventbus.OverrunEvent{Frame: l.frame, Took: took, Budget: cfg.OverrunBudget, Dropped: dropped},
			})
		}
	}
}
