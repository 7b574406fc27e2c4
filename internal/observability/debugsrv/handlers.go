package debugsrv

import (
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"time"

	"framesched/internal/diag"
	rtsup "framesched/internal/runtime/supervisor"
	"framesched/internal/storage"
	"framesched/internal/task/scheduler"
	logx "framesched/pkg/logx"
)

// TaskRegistry is the read side of diag.Registry.
type TaskRegistry interface {
	Records() []diag.Record
	Stats(topN int) diag.Stats
}

// Sources feed the inspection endpoints. Nil members answer 404.
type Sources struct {
	// Scheduler returns the latest snapshot published by the frame loop; nil
	// before the first frame.
	Scheduler  func() *scheduler.Snapshot
	Tasks      TaskRegistry
	Recorder   func() diag.RecorderStats
	Traces     storage.Store
	Goroutines func() rtsup.Snapshot
}

// Handler builds the mux. Every route except /healthz requires token when set.
func (s *Service) Handler(token string) http.Handler {
	src := s.src
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))

	mux.HandleFunc("GET /debug/scheduler", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.Scheduler == nil {
			http.NotFound(w, r)
			return
		}
		snap := src.Scheduler()
		if snap == nil {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, snap)
	}))

	mux.HandleFunc("GET /debug/tasks", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.Tasks == nil {
			http.NotFound(w, r)
			return
		}
		top := queryInt(r, "top", 10)
		out := struct {
			Stats    diag.Stats          `json:"stats"`
			Recorder *diag.RecorderStats `json:"recorder,omitempty"`
			Records  []diag.Record       `json:"records"`
		}{Stats: src.Tasks.Stats(top), Records: src.Tasks.Records()}
		if src.Recorder != nil {
			rs := src.Recorder()
			out.Recorder = &rs
		}
		writeJSON(w, out)
	}))

	mux.HandleFunc("GET /debug/traces", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.Traces == nil {
			http.NotFound(w, r)
			return
		}
		q := storage.Query{
			Kind:  r.URL.Query().Get("kind"),
			Limit: queryInt(r, "limit", 0),
		}
		if v := r.URL.Query().Get("since"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				http.Error(w, "since: expected a duration like 10m", http.StatusBadRequest)
				return
			}
			q.Since = time.Now().Add(-d)
		}
		rows, err := src.Traces.RecentTraces(r.Context(), q)
		if err != nil {
			s.log.Warn("trace query failed", logx.Err(err))
			http.Error(w, "trace query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, rows)
	}))

	mux.HandleFunc("GET /debug/goroutines", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.Goroutines == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, src.Goroutines())
	}))

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
