package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("20ms", "2s", "1h").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Host        HostConfig        `json:"host"`
	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Debug       DebugConfig       `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Forward LoggingForward `json:"forward,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingForward mirrors log lines at or above MinLevel onto the event bus so
// the trace recorder can persist them.
type LoggingForward struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig sizes the runner's slot storage.
//
// Defaults (when fields are omitted/zero):
//   - initial_capacity: 64
//   - max_capacity: 4096
//   - shrink_growth_factor: 4
//   - shrink_free_ratio: 3
type SchedulerConfig struct {
	InitialCapacity    int     `json:"initial_capacity,omitempty"`
	MaxCapacity        int     `json:"max_capacity,omitempty"`
	ShrinkGrowthFactor int     `json:"shrink_growth_factor,omitempty"`
	ShrinkFreeRatio    float64 `json:"shrink_free_ratio,omitempty"`
	Diagnostics        bool    `json:"diagnostics"`
}

// HostConfig controls the frame loop.
//
// Defaults:
//   - frame_rate: 60
//   - fixed_step: "20ms"
//   - max_fixed_steps: 5
//   - time_scale: 1 (0 is treated as omitted; use paused tasks to freeze time)
//   - overrun_budget: one frame period
type HostConfig struct {
	FrameRate     int     `json:"frame_rate,omitempty"`
	FixedStep     string  `json:"fixed_step,omitempty"`
	MaxFixedSteps int     `json:"max_fixed_steps,omitempty"`
	TimeScale     float64 `json:"time_scale,omitempty"`
	OverrunBudget string  `json:"overrun_budget,omitempty"`
}

// DiagnosticsConfig throttles the trace recorder.
type DiagnosticsConfig struct {
	TraceRatePerSec int `json:"trace_rate_per_sec,omitempty"`
	TraceBurst      int `json:"trace_burst,omitempty"`
	TraceBuffer     int `json:"trace_buffer,omitempty"`
}

// StorageConfig controls trace persistence. A nil section or driver "none"
// disables it.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/traces.db", "retention": "24h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retention   string `json:"retention,omitempty"`
}

// DebugConfig controls the optional inspection HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6061").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6061"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
