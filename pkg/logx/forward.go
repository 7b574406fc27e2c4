package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Record is a decoded log line as seen by a Forwarder.
type Record struct {
	Time    time.Time
	Level   string
	Message string
	Caller  string
	Fields  map[string]any
}

// Forwarder receives log records from the forward sink. ForwardLog runs on the
// sink's worker goroutine, never on the logging goroutine.
type Forwarder interface {
	ForwardLog(ctx context.Context, rec Record)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, rec Record)

func (f ForwarderFunc) ForwardLog(ctx context.Context, rec Record) { f(ctx, rec) }

// Limits applied to forwarded text so one huge line cannot flood the target.
const (
	maxMessageLen = 3500
	maxFieldLen   = 600
	maxStackLen   = 900
)

// forwarder is the state behind the forward sink: admission (level + rate),
// a bounded queue and one worker started on first use.
type forwarder struct {
	mu      sync.Mutex
	target  Forwarder
	min     zerolog.Level
	limiter *rate.Limiter

	queue   chan Record
	dropped atomic.Uint64

	start  sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newForwarder(target Forwarder) *forwarder {
	return &forwarder{target: target, queue: make(chan Record, forwardQueueLen)}
}

func (f *forwarder) setTarget(t Forwarder) {
	f.mu.Lock()
	f.target = t
	f.mu.Unlock()
}

func (f *forwarder) configure(cfg ForwardConfig) {
	rps := max(1, cfg.RatePerSec)
	f.mu.Lock()
	f.min = ParseLevel(cfg.MinLevel, zerolog.WarnLevel)
	f.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	f.mu.Unlock()

	if cfg.Enabled {
		f.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			f.mu.Lock()
			f.cancel = cancel
			f.mu.Unlock()
			f.wg.Add(1)
			go f.run(ctx)
		})
	}
}

func (f *forwarder) admit(level zerolog.Level) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target != nil && level >= f.min && f.limiter.Allow()
}

func (f *forwarder) enqueue(rec Record) {
	select {
	case f.queue <- rec:
	default:
		f.dropped.Add(1)
	}
}

func (f *forwarder) run(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-f.queue:
			f.mu.Lock()
			t := f.target
			f.mu.Unlock()
			if t != nil {
				t.ForwardLog(ctx, rec)
			}
		}
	}
}

func (f *forwarder) stop() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		f.wg.Wait()
	}
}

// forwardSink is the zerolog.LevelWriter installed by Apply when forwarding
// is enabled. It never fails and never blocks.
type forwardSink struct{ f *forwarder }

func (w forwardSink) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.InfoLevel, p) }

func (w forwardSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if w.f.admit(level) {
		if rec, ok := decodeRecord(p, level); ok {
			w.f.enqueue(rec)
		}
	}
	return len(p), nil
}

// decodeRecord parses one zerolog JSON line. zerolog reuses p after Write
// returns, so the Record must not alias it.
func decodeRecord(p []byte, level zerolog.Level) (Record, bool) {
	p = bytes.TrimSpace(p)
	if len(p) == 0 {
		return Record{}, false
	}
	rec := Record{Time: time.Now(), Level: level.String()}

	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		rec.Message = clip(string(p), maxMessageLen)
		return rec, true
	}
	rec.Fields = make(map[string]any, len(raw))
	for k, v := range raw {
		str, isStr := v.(string)
		switch k {
		case zerolog.LevelFieldName:
			if str != "" {
				rec.Level = str
			}
		case zerolog.MessageFieldName:
			rec.Message = clip(str, maxMessageLen)
		case zerolog.CallerFieldName:
			rec.Caller = str
		case zerolog.TimestampFieldName:
			if t, err := time.Parse(timeFormat, str); err == nil {
				rec.Time = t
			}
		case "stack":
			rec.Fields[k] = clip(fmt.Sprint(v), maxStackLen)
		default:
			if isStr {
				v = clip(str, maxFieldLen)
			}
			rec.Fields[k] = v
		}
	}
	return rec, true
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
