package app

import (
	"fmt"
	"strings"
	"time"

	"framesched/internal/config"
	"framesched/internal/diag"
	"framesched/internal/host"
	"framesched/internal/observability/debugsrv"
	"framesched/internal/storage"
	"framesched/internal/task/scheduler"
	logx "framesched/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Forward: logx.ForwardConfig{
			Enabled:    lc.Forward.Enabled,
			MinLevel:   lc.Forward.MinLevel,
			RatePerSec: lc.Forward.RatePerSec,
		},
	}
}

// mapSchedulerConfig fills omitted fields from scheduler.DefaultConfig.
func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	sc := cfg.Scheduler
	out := scheduler.DefaultConfig()
	if sc.InitialCapacity > 0 {
		out.InitialCapacity = sc.InitialCapacity
	}
	if sc.MaxCapacity > 0 {
		out.MaxCapacity = sc.MaxCapacity
	}
	if sc.ShrinkGrowthFactor > 0 {
		out.ShrinkGrowthFactor = sc.ShrinkGrowthFactor
	}
	if sc.ShrinkFreeRatio > 0 {
		out.ShrinkFreeRatio = sc.ShrinkFreeRatio
	}
	out.Diagnostics = sc.Diagnostics
	return out
}

func mapHostConfig(cfg *config.Config) (host.Config, error) {
	hc := cfg.Host
	def := host.DefaultConfig()
	fixed, err := config.ParseDurationOrDefault("host.fixed_step", hc.FixedStep, def.FixedStep)
	if err != nil {
		return host.Config{}, err
	}
	budget, err := config.ParseDurationField("host.overrun_budget", hc.OverrunBudget)
	if err != nil {
		return host.Config{}, err
	}
	return host.Config{
		FrameRate:     hc.FrameRate,
		FixedStep:     fixed,
		MaxFixedSteps: hc.MaxFixedSteps,
		TimeScale:     hc.TimeScale,
		OverrunBudget: budget,
	}, nil
}

func mapRecorderConfig(cfg *config.Config) diag.RecorderConfig {
	return diag.RecorderConfig{
		RatePerSec: cfg.Diagnostics.TraceRatePerSec,
		Burst:      cfg.Diagnostics.TraceBurst,
		Buffer:     cfg.Diagnostics.TraceBuffer,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, false, err
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path, Retention: retention}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retention: retention}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	dc := cfg.Debug
	out := debugsrv.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 10*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", dc.WriteTimeout); err != nil {
		return debugsrv.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, time.Minute); err != nil {
		return debugsrv.Config{}, err
	}
	return out, nil
}
