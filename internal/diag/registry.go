package diag

import (
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"framesched/internal/eventbus"
	"framesched/internal/task/scheduler"
	logx "framesched/pkg/logx"
)

// Record is a live task as seen by the registry.
type Record struct {
	Handle       scheduler.Handle `json:"handle"`
	Kind         string           `json:"kind"`
	Phase        string           `json:"phase"`
	Site         string           `json:"site"`
	RegisteredAt time.Time        `json:"registered_at"`
}

// SiteCount is the number of live tasks registered from one call site.
type SiteCount struct {
	Site string `json:"site"`
	Live int    `json:"live"`
}

type Stats struct {
	Live     int               `json:"live"`
	Released map[string]uint64 `json:"released"`
	TopSites []SiteCount       `json:"top_sites"`
}

// Registry maps live handles to their registration site. The hooks run on the
// frame goroutine; the read methods may be called from any goroutine.
type Registry struct {
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	mu       sync.RWMutex
	live     map[scheduler.Handle]Record
	released map[scheduler.Reason]uint64
}

func NewRegistry(log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:      log,
		bus:      bus,
		now:      time.Now,
		live:     map[scheduler.Handle]Record{},
		released: map[scheduler.Reason]uint64{},
	}
}

// Hooks returns the hook pair to install with scheduler.WithHooks.
func (r *Registry) Hooks() scheduler.Hooks {
	return scheduler.Hooks{
		OnRegister:   r.onRegister,
		OnUnregister: r.onUnregister,
	}
}

func (r *Registry) onRegister(info scheduler.ItemInfo) {
	rec := Record{
		Handle:       info.Handle,
		Kind:         info.Kind.String(),
		Phase:        info.Phase.String(),
		Site:         callSite(),
		RegisteredAt: r.now(),
	}
	r.mu.Lock()
	r.live[info.Handle] = rec
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeTaskRegistered,
			Time: rec.RegisteredAt,
			Data: eventbus.TaskEvent{Handle: info.Handle.String(), Kind: rec.Kind, Phase: rec.Phase, Site: rec.Site},
		})
	}
}

func (r *Registry) onUnregister(info scheduler.ItemInfo) {
	r.mu.Lock()
	rec, ok := r.live[info.Handle]
	delete(r.live, info.Handle)
	r.released[info.Reason]++
	r.mu.Unlock()

	if !ok {
		// registered while diagnostics were off
		r.log.Trace("unregister for unknown handle", logx.String("handle", info.Handle.String()))
		rec = Record{Kind: info.Kind.String(), Phase: info.Phase.String()}
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeTaskUnregistered,
			Data: eventbus.TaskEvent{
				Handle: info.Handle.String(),
				Kind:   rec.Kind,
				Phase:  rec.Phase,
				Site:   rec.Site,
				Reason: info.Reason.String(),
			},
		})
	}
}

// Lookup returns the record of a live handle.
func (r *Registry) Lookup(h scheduler.Handle) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.live[h]
	return rec, ok
}

// Records returns the live records, oldest first.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.live))
	for _, rec := range r.live {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Record) int {
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return int(a.Handle.Index) - int(b.Handle.Index)
	})
	return out
}

// Stats summarizes the registry. topN bounds TopSites (0 = all).
func (r *Registry) Stats(topN int) Stats {
	r.mu.RLock()
	st := Stats{Live: len(r.live), Released: make(map[string]uint64, len(r.released))}
	for reason, n := range r.released {
		st.Released[reason.String()] = n
	}
	bySite := map[string]int{}
	for _, rec := range r.live {
		bySite[rec.Site]++
	}
	r.mu.RUnlock()

	for site, n := range bySite {
		st.TopSites = append(st.TopSites, SiteCount{Site: site, Live: n})
	}
	slices.SortFunc(st.TopSites, func(a, b SiteCount) int {
		if a.Live != b.Live {
			return b.Live - a.Live
		}
		return strings.Compare(a.Site, b.Site)
	})
	if topN > 0 && len(st.TopSites) > topN {
		st.TopSites = st.TopSites[:topN]
	}
	return st
}

// Reset drops every record. Used when a session ends.
func (r *Registry) Reset() {
	r.mu.Lock()
	clear(r.live)
	r.mu.Unlock()
}

var skipPrefixes = []string{
	reflect.TypeOf(scheduler.Handle{}).PkgPath() + ".",
	reflect.TypeOf((*Registry)(nil)).Elem().PkgPath() + ".",
}

// callSite returns "file:line function" of the first frame outside the
// scheduler and this package.
func callSite() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if fr.Function != "" && !skipFrame(fr.Function) {
			return filepath.Base(fr.File) + ":" + strconv.Itoa(fr.Line) + " " + shortFunc(fr.Function)
		}
		if !more {
			return "unknown"
		}
	}
}

func skipFrame(fn string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}

// shortFunc trims the import path: "a/b/pkg.(*T).M" becomes "pkg.(*T).M".
func shortFunc(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		return fn[i+1:]
	}
	return fn
}
