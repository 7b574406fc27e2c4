package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var validLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true,
	"warn": true, "warning": true, "error": true, "fatal": true, "panic": true,
}

// Validate checks cross-field constraints that strict decoding cannot express.
// Each problem is reported with the key path of the offending field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	fail := func(path, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", path, fmt.Sprintf(format, args...)))
	}

	lg := cfg.Logging
	if !validLevels[strings.ToLower(strings.TrimSpace(lg.Level))] {
		fail("logging.level", "unknown level %q", lg.Level)
	}
	if !validLevels[strings.ToLower(strings.TrimSpace(lg.Forward.MinLevel))] {
		fail("logging.forward.min_level", "unknown level %q", lg.Forward.MinLevel)
	}
	if lg.Forward.RatePerSec < 0 {
		fail("logging.forward.rate_per_sec", "must be >= 0")
	}

	sc := cfg.Scheduler
	if sc.InitialCapacity < 0 {
		fail("scheduler.initial_capacity", "must be >= 0")
	}
	if sc.MaxCapacity < 0 {
		fail("scheduler.max_capacity", "must be >= 0")
	}
	if sc.MaxCapacity > 0 && sc.MaxCapacity < sc.InitialCapacity {
		fail("scheduler.max_capacity", "must be >= initial_capacity")
	}
	if sc.ShrinkGrowthFactor < 0 {
		fail("scheduler.shrink_growth_factor", "must be >= 0")
	}
	if sc.ShrinkFreeRatio < 0 {
		fail("scheduler.shrink_free_ratio", "must be >= 0")
	}

	h := cfg.Host
	if h.FrameRate < 0 || h.FrameRate > 1000 {
		fail("host.frame_rate", "must be between 0 and 1000")
	}
	if _, err := ParseDurationField("host.fixed_step", h.FixedStep); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("host.overrun_budget", h.OverrunBudget); err != nil {
		errs = append(errs, err)
	}
	if h.MaxFixedSteps < 0 {
		fail("host.max_fixed_steps", "must be >= 0")
	}
	if h.TimeScale < 0 {
		fail("host.time_scale", "must be >= 0")
	}

	d := cfg.Diagnostics
	if d.TraceRatePerSec < 0 {
		fail("diagnostics.trace_rate_per_sec", "must be >= 0")
	}
	if d.TraceBurst < 0 {
		fail("diagnostics.trace_burst", "must be >= 0")
	}
	if d.TraceBuffer < 0 {
		fail("diagnostics.trace_buffer", "must be >= 0")
	}

	if st := cfg.Storage; st != nil {
		switch driver := strings.ToLower(strings.TrimSpace(st.Driver)); driver {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				fail("storage.path", "required when storage.driver=%s", driver)
			}
		default:
			fail("storage.driver", "unknown driver %q", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("storage.retention", st.Retention); err != nil {
			errs = append(errs, err)
		}
	}

	dbg := cfg.Debug
	if dbg.Enabled {
		if addr := strings.TrimSpace(dbg.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				fail("debug.addr", "invalid address %q", addr)
			}
		}
	}
	for _, f := range [...]struct{ path, raw string }{
		{"debug.read_timeout", dbg.ReadTimeout},
		{"debug.write_timeout", dbg.WriteTimeout},
		{"debug.idle_timeout", dbg.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
