package eventbus

import "time"

// Event types published in this repo.
const (
	TypeTaskRegistered   = "task.registered"
	TypeTaskUnregistered = "task.unregistered"
	TypeLog              = "log"
	TypeFrameOverrun     = "frame.overrun"
	TypeConfigApplied    = "config.applied"
)

// TaskEvent is the Data of task.registered and task.unregistered.
type TaskEvent struct {
	Handle string
	Kind   string
	Phase  string
	Site   string
	Reason string
}

// LogEvent is the Data of log events forwarded from the logging sink.
type LogEvent struct {
	Level   string
	Message string
	Caller  string
	Fields  map[string]any
}

// OverrunEvent is published when a frame took longer than its budget.
type OverrunEvent struct {
	Frame   uint64
	Took    time.Duration
	Budget  time.Duration
	Dropped int // fixed steps dropped by the catch-up cap
}

// ConfigEvent is published after a config reload was applied.
type ConfigEvent struct {
	Sections []string
}
