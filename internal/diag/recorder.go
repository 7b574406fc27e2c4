package diag

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"framesched/internal/eventbus"
	"framesched/internal/storage"
	logx "framesched/pkg/logx"
)

// RecorderConfig throttles how many events per second reach the store.
type RecorderConfig struct {
	RatePerSec int
	Burst      int
	Buffer     int
}

func (c RecorderConfig) limits() (rate.Limit, int) {
	rps := c.RatePerSec
	if rps <= 0 {
		rps = 200
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 2 * rps
	}
	return rate.Limit(rps), burst
}

// Recorder drains bus events into a trace store.
type Recorder struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	limiter *rate.Limiter
	buffer  int

	written   atomic.Uint64
	throttled atomic.Uint64
	failed    atomic.Uint64
}

type RecorderStats struct {
	Written   uint64 `json:"written"`
	Throttled uint64 `json:"throttled"`
	Failed    uint64 `json:"failed"`
}

func NewRecorder(cfg RecorderConfig, bus eventbus.Bus, store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	lim, burst := cfg.limits()
	buf := cfg.Buffer
	if buf <= 0 {
		buf = 1024
	}
	return &Recorder{
		log:     log,
		bus:     bus,
		store:   store,
		limiter: rate.NewLimiter(lim, burst),
		buffer:  buf,
	}
}

// Apply changes the throttle. Safe to call concurrently with Run.
func (r *Recorder) Apply(cfg RecorderConfig) {
	lim, burst := cfg.limits()
	r.limiter.SetLimit(lim)
	r.limiter.SetBurst(burst)
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written:   r.written.Load(),
		Throttled: r.throttled.Load(),
		Failed:    r.failed.Load(),
	}
}

// Run records events until ctx is done. Without a store it returns at once.
func (r *Recorder) Run(ctx context.Context) error {
	if r.store == nil || r.bus == nil {
		return nil
	}
	ch, unsub := r.bus.Subscribe(r.buffer,
		eventbus.TypeTaskRegistered, eventbus.TypeTaskUnregistered,
		eventbus.TypeLog, eventbus.TypeFrameOverrun,
	)
	defer unsub()

	r.log.Debug("recorder started")
	for {
		select {
		case <-ctx.Done():
			st := r.Stats()
			r.log.Debug("recorder stopped",
				logx.Uint64("written", st.Written),
				logx.Uint64("throttled", st.Throttled),
				logx.Uint64("failed", st.Failed),
			)
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev eventbus.Event) {
	entry, ok := toTrace(ev)
	if !ok {
		return
	}
	if !r.limiter.Allow() {
		r.throttled.Add(1)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := r.store.AppendTrace(wctx, entry)
	cancel()
	if err != nil {
		// counted only; logging here would feed the log forwarder back into the bus
		r.failed.Add(1)
		return
	}
	r.written.Add(1)
}

func toTrace(ev eventbus.Event) (storage.TraceEntry, bool) {
	e := storage.TraceEntry{At: ev.Time}
	switch d := ev.Data.(type) {
	case eventbus.TaskEvent:
		switch ev.Type {
		case eventbus.TypeTaskRegistered:
			e.Kind = storage.KindRegistered
		case eventbus.TypeTaskUnregistered:
			e.Kind = storage.KindUnregistered
		default:
			return e, false
		}
		e.Handle = d.Handle
		e.TaskKind = d.Kind
		e.Phase = d.Phase
		e.Site = d.Site
		e.Reason = d.Reason
	case eventbus.LogEvent:
		e.Kind = storage.KindLog
		e.Level = d.Level
		e.Message = d.Message
		e.Site = d.Caller
		e.MetaJSON = metaJSON(d.Fields)
	case eventbus.OverrunEvent:
		e.Kind = storage.KindOverrun
		e.MetaJSON = metaJSON(map[string]any{
			"frame":         d.Frame,
			"took_ms":       d.Took.Milliseconds(),
			"budget_ms":     d.Budget.Milliseconds(),
			"dropped_steps": d.Dropped,
		})
	default:
		return e, false
	}
	return e, true
}

func metaJSON(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
