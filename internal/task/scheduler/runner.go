package scheduler

import (
	"fmt"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"framesched/internal/task/slot"
	"framesched/internal/task/timer"
	logx "framesched/pkg/logx"
)

type itemState uint8

const (
	statePending itemState = iota + 1
	stateActive
)

func (s itemState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateActive:
		return "active"
	default:
		return "free"
	}
}

// entry is the slot payload.
type entry struct {
	task       timer.Task
	phase      Phase
	generation uint64
	state      itemState

	// skipFirstTick is set when the item's phase was already swept in the frame
	// it was registered in; registeredFrame tells the sweep which frame that was.
	skipFirstTick   bool
	registeredFrame uint64
}

// Runner owns the scheduled items of one session.
type Runner struct {
	log   logx.Logger
	cfg   Config
	hooks Hooks

	items   *slot.Allocator[entry]
	pending []Handle
	active  []Handle

	generation uint64

	frame        uint64
	frameStarted bool
	swept        [phaseCount]bool

	// iterating is the sweep gate: while set, active items are only marked
	// cancelled and the sweep itself frees them.
	iterating    bool
	closePending bool
	closed       bool

	errEvery   time.Duration
	errLimiter *rate.Limiter
	suppressed uint64

	registered uint64
	completed  uint64
	cancelled  uint64
	rejected   uint64
	shrinks    uint64
}

func New(cfg Config, log logx.Logger, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.normalized()
	r := &Runner{
		log:        log,
		cfg:        cfg,
		items:      slot.New[entry](cfg.InitialCapacity, cfg.MaxCapacity),
		pending:    make([]Handle, 0, cfg.InitialCapacity),
		active:     make([]Handle, 0, cfg.InitialCapacity),
		generation: 1,
		errEvery:   registerErrorInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.errLimiter = newErrorLimiter(r.errEvery)
	return r
}

// Config returns the active configuration.
func (r *Runner) Config() Config { return r.cfg }

// Apply swaps the configuration. Call it between frames. A lower MaxCapacity
// never evicts live items; it only rejects further registrations.
func (r *Runner) Apply(cfg Config) {
	cfg = cfg.normalized()
	old := r.cfg
	r.cfg = cfg
	r.items.SetMaxCapacity(cfg.MaxCapacity)
	if old != cfg {
		r.log.Info("scheduler config applied",
			logx.Int("initial_capacity", cfg.InitialCapacity),
			logx.Int("max_capacity", cfg.MaxCapacity),
			logx.Int("shrink_growth_factor", cfg.ShrinkGrowthFactor),
			logx.Float64("shrink_free_ratio", cfg.ShrinkFreeRatio),
			logx.Bool("diagnostics", cfg.Diagnostics),
		)
	}
}

// Register stores t and returns its handle. The item becomes eligible at the
// next frame; if phase was already swept in the current frame it will not run
// before the next occurrence of that phase.
func (r *Runner) Register(t timer.Task, phase Phase) (Handle, error) {
	if r.closed || r.closePending {
		return Handle{}, ErrClosed
	}
	if !phase.valid() {
		err := fmt.Errorf("%w: %d", ErrUnknownPhase, uint8(phase))
		r.reportRegisterError(phase, err)
		return Handle{}, err
	}
	h, e, err := r.newHandle()
	if err != nil {
		err = fmt.Errorf("scheduler: register: %w", err)
		r.reportRegisterError(phase, err)
		return Handle{}, err
	}
	e.task = t
	e.phase = phase
	e.state = statePending
	e.registeredFrame = r.frame
	e.skipFirstTick = r.frameStarted && r.swept[phase]
	r.pending = append(r.pending, h)
	r.registered++

	r.log.Trace("task registered",
		logx.String("handle", h.String()),
		logx.String("kind", t.Kind().String()),
		logx.String("phase", phase.String()),
		logx.Bool("skip_first_tick", e.skipFirstTick),
	)
	if r.cfg.Diagnostics && r.hooks.OnRegister != nil {
		r.hooks.OnRegister(ItemInfo{Handle: h, Kind: t.Kind(), Phase: phase})
	}
	return h, nil
}

// newHandle reserves a slot and stamps it with the current generation. The
// returned pointer is valid until the next allocation.
func (r *Runner) newHandle() (Handle, *entry, error) {
	i, err := r.items.AddUninitialized()
	if err != nil {
		return Handle{}, nil, err
	}
	e := r.items.Ref(i)
	e.generation = r.generation
	return Handle{Generation: r.generation, Index: uint32(i)}, e, nil
}

// lookup resolves h to its live entry, or nil when h is invalid or stale.
func (r *Runner) lookup(h Handle) *entry {
	if !h.IsValid() {
		return nil
	}
	e := r.items.Ref(int(h.Index))
	if e == nil || e.generation != h.Generation {
		r.log.Trace("stale handle ignored", logx.String("handle", h.String()))
		return nil
	}
	return e
}

// Update sweeps the active items of phase. The first call with a new
// step.Frame starts a new frame and promotes every pending item.
//
// Update must not be called from inside a task callback.
func (r *Runner) Update(phase Phase, step timer.Step) {
	if r.iterating {
		panic(fmt.Sprintf("scheduler: re-entrant Update(%s) from a task callback", phase))
	}
	if r.closed || !phase.valid() {
		return
	}
	if !r.frameStarted || step.Frame != r.frame {
		r.startFrame(step.Frame)
	}

	r.sweep(phase, step)
	r.swept[phase] = true

	if r.closePending {
		r.teardown()
		return
	}
	if phase == PhaseLate {
		r.maybeShrink()
	}
}

func (r *Runner) startFrame(frame uint64) {
	r.frame = frame
	r.frameStarted = true
	r.swept = [phaseCount]bool{}
	if len(r.pending) == 0 {
		return
	}
	for _, h := range r.pending {
		if e := r.items.Ref(int(h.Index)); e != nil {
			e.state = stateActive
		}
	}
	r.active = append(r.active, r.pending...)
	r.pending = r.pending[:0]
	r.generation++
}

func (r *Runner) sweep(phase Phase, step timer.Step) {
	r.iterating = true
	defer func() { r.iterating = false }()

	for i := len(r.active) - 1; i >= 0; i-- {
		h := r.active[i]
		e := r.items.Ref(int(h.Index))
		if e == nil || e.generation != h.Generation {
			// freed behind the sweep's back; drop the dangling handle
			r.active = slices.Delete(r.active, i, i+1)
			continue
		}
		// items of other phases cancelled during an earlier sweep are reclaimed here too
		if e.task.IsDone() {
			r.retire(i, h, e)
			continue
		}
		if e.phase != phase {
			continue
		}
		if e.skipFirstTick {
			e.skipFirstTick = false
			if e.registeredFrame == r.frame {
				continue
			}
		}

		o := e.task.Update(step)
		cb := e.task.Callbacks()
		// callbacks may register and grow storage, so e must not be used past this point
		cb.Step(o)
		if o.Fired {
			// a step callback that cancelled its own task suppresses completion
			if cur := r.items.Ref(int(h.Index)); cur != nil && !cur.task.IsCancelled() {
				cb.Done(o)
			}
		}

		if cur := r.items.Ref(int(h.Index)); cur != nil && cur.generation == h.Generation && cur.task.IsDone() {
			r.retire(i, h, cur)
		}
	}
}

// retire removes active[i] and frees its slot.
func (r *Runner) retire(i int, h Handle, e *entry) {
	r.active = slices.Delete(r.active, i, i+1)
	reason := ReasonCompleted
	if e.task.IsCancelled() {
		reason = ReasonCancelled
	}
	r.free(h, e, reason)
}

// free releases the slot behind h. The entry must already be unlinked from the
// pending and active lists.
func (r *Runner) free(h Handle, e *entry, reason Reason) {
	info := ItemInfo{Handle: h, Kind: e.task.Kind(), Phase: e.phase, Reason: reason}
	e.task.Dispose()
	r.items.RemoveAt(int(h.Index))
	r.generation++

	switch reason {
	case ReasonCompleted:
		r.completed++
	case ReasonCancelled, ReasonClosed:
		r.cancelled++
	}
	r.log.Trace("task released",
		logx.String("handle", h.String()),
		logx.String("kind", info.Kind.String()),
		logx.String("reason", reason.String()),
	)
	if r.cfg.Diagnostics && r.hooks.OnUnregister != nil {
		r.hooks.OnUnregister(info)
	}
}

func (r *Runner) maybeShrink() {
	threshold := r.cfg.InitialCapacity * r.cfg.ShrinkGrowthFactor
	if r.items.Len() <= threshold {
		return
	}
	live := r.items.Count()
	free := r.items.FreeCount()
	if live > 0 && float64(free)/float64(live) <= r.cfg.ShrinkFreeRatio {
		return
	}
	before := r.items.Len()
	r.items.Shrink()
	if after := r.items.Len(); after < before {
		r.shrinks++
		r.log.Debug("scheduler storage shrunk",
			logx.Int("from", before),
			logx.Int("to", after),
			logx.Int("live", live),
		)
	}
}

// Close cancels and releases every item and rejects further registrations.
// Called from a task callback, the teardown runs when the current sweep ends.
func (r *Runner) Close() {
	if r.closed {
		return
	}
	if r.iterating {
		r.closePending = true
		r.CancelAll()
		return
	}
	r.teardown()
}

func (r *Runner) teardown() {
	n := len(r.pending) + len(r.active)
	for _, list := range [][]Handle{r.pending, r.active} {
		for _, h := range list {
			e := r.items.Ref(int(h.Index))
			if e == nil || e.generation != h.Generation {
				continue
			}
			e.task.Cancel()
			r.free(h, e, ReasonClosed)
		}
	}
	r.pending = nil
	r.active = nil
	r.items.Clear()
	r.items.Shrink()
	r.closed = true
	r.closePending = false
	r.log.Debug("scheduler closed", logx.Int("released", n))
}
