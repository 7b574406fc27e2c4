package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"framesched/internal/config"
	"framesched/internal/diag"
	"framesched/internal/eventbus"
	"framesched/internal/host"
	"framesched/internal/observability/debugsrv"
	"framesched/internal/runtime/supervisor"
	"framesched/internal/storage"
	"framesched/internal/task/scheduler"
	logx "framesched/pkg/logx"
)

// App owns one scheduling session: the runner, the frame loop that drives it
// and the diagnostics around it.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	registry *diag.Registry
	recorder *diag.Recorder
	runner   *scheduler.Runner
	loop     *host.Loop
	debug    *debugsrv.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	logSvc, log := logx.New(mapLogConfig(cfg), busForwarder(bus))
	log = log.With(logx.String("comp", "app"))

	hostCfg, err := mapHostConfig(cfg)
	if err != nil {
		return nil, err
	}
	debugCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	registry := diag.NewRegistry(log.With(logx.String("comp", "diag")), bus)
	recorder := diag.NewRecorder(mapRecorderConfig(cfg), bus, store, log.With(logx.String("comp", "recorder")))
	runner := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")),
		scheduler.WithHooks(registry.Hooks()))
	loop := host.New(hostCfg, runner, bus, log.With(logx.String("comp", "host")))

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		registry: registry,
		recorder: recorder,
		runner:   runner,
		loop:     loop,
	}
	a.debug = debugsrv.New(debugCfg, debugsrv.Sources{
		Scheduler:  loop.Snapshot,
		Tasks:      registry,
		Recorder:   recorder.Stats,
		Traces:     store,
		Goroutines: func() supervisor.Snapshot { return a.sup.Snapshot() },
	}, log.With(logx.String("comp", "debug")))
	return a, nil
}

// busForwarder mirrors forwarded log records onto the bus for the recorder.
func busForwarder(bus eventbus.Bus) logx.Forwarder {
	return logx.ForwarderFunc(func(_ context.Context, rec logx.Record) {
		bus.Publish(eventbus.Event{
			Type: eventbus.TypeLog,
			Time: rec.Time,
			Data: eventbus.LogEvent{Level: rec.Level, Message: rec.Message, Caller: rec.Caller, Fields: rec.Fields},
		})
	})
}

func (a *App) Logger() logx.Logger { return a.log }

// Loop is the frame loop. Register tasks through Loop().Do once the app runs.
func (a *App) Loop() *host.Loop { return a.loop }

func (a *App) Registry() *diag.Registry { return a.registry }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	a.sup.Go("frame.loop", a.loop.Run)
	a.sup.GoRestart("trace.recorder", a.recorder.Run,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// coalesce bursts: keep only the latest config
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// validate rejects hot reloads that cannot be mapped onto running components.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapHostConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if slices.Contains(sections, "host") || slices.Contains(sections, "scheduler") {
		hc, err := mapHostConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid host config; keeping previous", logx.Err(err))
		} else if err := a.loop.Apply(ctx, hc, mapSchedulerConfig(newCfg)); err != nil {
			a.log.Warn("scheduler config not applied", logx.Err(err))
		}
	}

	a.recorder.Apply(mapRecorderConfig(newCfg))

	if dc, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dc)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: eventbus.ConfigEvent{Sections: sections}})
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// unwind background loops right away; the frame loop closes the runner on exit
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component can't stall the rest
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > limit {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	if st := a.loop.Stats(); st.Frames > 0 {
		a.log.Info("stopped",
			logx.Uint64("frames", st.Frames),
			logx.Uint64("overruns", st.Overruns),
			logx.Uint64("bus_dropped", a.bus.Dropped()),
		)
	} else {
		a.log.Info("stopped")
	}
	return a.logs.Close()
}
