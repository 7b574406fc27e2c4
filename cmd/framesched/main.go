package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"framesched/internal/app"
	"framesched/internal/task/scheduler"
	"framesched/internal/task/timer"
	logx "framesched/pkg/logx"
	"framesched/pkg/systemd"
)

func main() {
	var (
		cfgPath string
		demo    bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.BoolVar(&demo, "demo", false, "register a few sample tasks")
	flag.Parse()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	log := a.Logger()

	if err := startWatchdog(ctx, a, log); err != nil {
		log.Warn("systemd watchdog not armed", logx.Err(err))
	}
	if demo {
		if err := registerDemo(ctx, a, log); err != nil {
			log.Warn("demo tasks not registered", logx.Err(err))
		}
	}
	if ok, err := systemd.Ready(); err != nil {
		log.Warn("sd_notify READY failed", logx.Err(err))
	} else if ok {
		_, _ = systemd.Status("running")
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigc:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
		if err := a.Err(); err != nil {
			log.Error("fatal", logx.Err(err))
		}
	}

	_, _ = systemd.Stopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Println("stop:", err)
	}
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}

// startWatchdog pings systemd from a late-phase task, so a stalled frame loop
// also stops the keepalives.
func startWatchdog(ctx context.Context, a *app.App, log logx.Logger) error {
	every, err := systemd.WatchdogInterval()
	if err != nil || every <= 0 {
		return err
	}
	log.Info("systemd watchdog armed", logx.Duration("interval", every))
	return a.Loop().Do(ctx, func(r *scheduler.Runner) {
		_, err := r.Delay(every, scheduler.PhaseLate, timer.DelayOptions{
			Loop:            true,
			IgnoreTimeScale: true,
			OnDone: func() {
				if _, err := systemd.Ping(); err != nil {
					log.Warn("watchdog ping failed", logx.Err(err))
				}
			},
		})
		if err != nil {
			log.Warn("watchdog task rejected", logx.Err(err))
		}
	})
}

func registerDemo(ctx context.Context, a *app.App, log logx.Logger) error {
	log = log.With(logx.String("comp", "demo"))
	return a.Loop().Do(ctx, func(r *scheduler.Runner) {
		if _, err := r.Delay(2*time.Second, scheduler.PhaseEarly, timer.DelayOptions{
			OnDone: func() { log.Info("delay elapsed") },
		}); err != nil {
			log.Warn("delay rejected", logx.Err(err))
		}
		if _, err := r.Ticks(600, scheduler.PhasePhysics, timer.TicksOptions{
			Loop:   true,
			OnDone: func() { log.Debug("600 physics steps") },
		}); err != nil {
			log.Warn("ticks rejected", logx.Err(err))
		}
		if _, err := r.Schedule("@every 5s", scheduler.PhaseLate, func() {
			log.Info("cron fired")
		}); err != nil {
			log.Warn("cron rejected", logx.Err(err))
		}
	})
}
