package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file backend
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention drops traces older than this (0 keeps everything).
	Retention time.Duration
}

// Trace kinds.
const (
	KindRegistered   = "task.registered"
	KindUnregistered = "task.unregistered"
	KindLog          = "log"
	KindOverrun      = "frame.overrun"
)

// TraceEntry is one persisted diagnostic record.
// Keep it compact and schema-stable.
type TraceEntry struct {
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Handle   string    `json:"handle,omitempty"`
	TaskKind string    `json:"task_kind,omitempty"`
	Phase    string    `json:"phase,omitempty"`
	Site     string    `json:"site,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Level    string    `json:"level,omitempty"`
	Message  string    `json:"message,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}

// Query filters RecentTraces. Zero values match everything.
type Query struct {
	Kind  string
	Since time.Time
	Limit int
}

const defaultQueryLimit = 100

func (q Query) limit() int {
	if q.Limit <= 0 {
		return defaultQueryLimit
	}
	return q.Limit
}

func (q Query) match(e TraceEntry) bool {
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	if !q.Since.IsZero() && e.At.Before(q.Since) {
		return false
	}
	return true
}
