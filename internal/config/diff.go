package config

import (
	"sort"
	"strings"

	logx "framesched/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.forward_enabled", newCfg.Logging.Forward.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.initial_capacity", newCfg.Scheduler.InitialCapacity),
			logx.Int("scheduler.max_capacity", newCfg.Scheduler.MaxCapacity),
			logx.Int("scheduler.shrink_growth_factor", newCfg.Scheduler.ShrinkGrowthFactor),
			logx.Float64("scheduler.shrink_free_ratio", newCfg.Scheduler.ShrinkFreeRatio),
			logx.Bool("scheduler.diagnostics", newCfg.Scheduler.Diagnostics),
		)
	}

	oh, nh := oldCfg.Host, newCfg.Host
	if oh.FrameRate != nh.FrameRate ||
		strings.TrimSpace(oh.FixedStep) != strings.TrimSpace(nh.FixedStep) ||
		oh.MaxFixedSteps != nh.MaxFixedSteps ||
		oh.TimeScale != nh.TimeScale ||
		strings.TrimSpace(oh.OverrunBudget) != strings.TrimSpace(nh.OverrunBudget) {
		changed = append(changed, "host")
		attrs = append(attrs,
			logx.Int("host.frame_rate", nh.FrameRate),
			logx.String("host.fixed_step", strings.TrimSpace(nh.FixedStep)),
			logx.Int("host.max_fixed_steps", nh.MaxFixedSteps),
			logx.Float64("host.time_scale", nh.TimeScale),
		)
	}

	if oldCfg.Diagnostics != newCfg.Diagnostics {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Int("diagnostics.trace_rate_per_sec", newCfg.Diagnostics.TraceRatePerSec),
			logx.Int("diagnostics.trace_burst", newCfg.Diagnostics.TraceBurst),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = trimStorage(*oldCfg.Storage)
	}
	if newCfg.Storage != nil {
		nS = trimStorage(*newCfg.Storage)
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", nS.Path != ""),
			logx.String("storage.busy_timeout", nS.BusyTimeout),
			logx.String("storage.retention", nS.Retention),
		)
	}

	// never log the token itself
	od, nd := oldCfg.Debug, newCfg.Debug
	if od.Enabled != nd.Enabled ||
		strings.TrimSpace(od.Addr) != strings.TrimSpace(nd.Addr) ||
		od.AllowInsecure != nd.AllowInsecure ||
		strings.TrimSpace(od.ReadTimeout) != strings.TrimSpace(nd.ReadTimeout) ||
		strings.TrimSpace(od.WriteTimeout) != strings.TrimSpace(nd.WriteTimeout) ||
		strings.TrimSpace(od.IdleTimeout) != strings.TrimSpace(nd.IdleTimeout) ||
		od.Token != nd.Token {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nd.Token) != ""),
			logx.Bool("debug.allow_insecure", nd.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func trimStorage(s StorageConfig) StorageConfig {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	s.Path = strings.TrimSpace(s.Path)
	s.BusyTimeout = strings.TrimSpace(s.BusyTimeout)
	s.Retention = strings.TrimSpace(s.Retention)
	if s.Driver == "none" {
		return StorageConfig{}
	}
	return s
}
