package debugsrv

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "framesched/internal/runtime/supervisor"
	logx "framesched/pkg/logx"
)

const (
	defaultAddr  = "127.0.0.1:6061"
	shutdownWait = 2 * time.Second
)

// Config controls the optional inspection server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration // 0 keeps /debug/pprof/profile usable
	IdleTimeout  time.Duration
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return defaultAddr
}

// instance is one started server: its supervisor and, while bound, the
// current listener and http.Server.
type instance struct {
	cfg Config
	sup *rtsup.Supervisor

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

type Service struct {
	log logx.Logger
	src Sources

	mu  sync.Mutex
	cfg Config
	run *instance
}

func New(cfg Config, src Sources, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, src: src, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound listen address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return ""
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.ln == nil {
		return ""
	}
	return run.ln.Addr().String()
}

// Supervisor returns the running server's supervisor, nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.sup
}

// Reconfigure applies cfg, restarting the server only when it changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	changed := s.cfg != cfg
	running := s.run != nil
	s.cfg = cfg
	s.mu.Unlock()

	if running && (changed || !cfg.Enabled) {
		s.Stop(ctx)
	}
	if cfg.Enabled {
		s.Start(ctx)
	}
}

// Start is idempotent. The server outlives ctx's cancellation (Stop ends it)
// and a failed bind is retried with backoff instead of failing the host.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil || !s.cfg.Enabled {
		return
	}
	run := &instance{
		cfg: s.cfg,
		sup: rtsup.New(context.WithoutCancel(ctx),
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		),
	}
	s.run = run
	run.sup.GoRestart("debug.http", func(c context.Context) error { return s.serve(c, run) },
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the server down gracefully within ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	run := s.run
	s.run = nil
	s.mu.Unlock()
	if run == nil {
		return
	}

	run.mu.Lock()
	srv := run.srv
	run.mu.Unlock()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	run.sup.Cancel()
	if err := run.sup.Wait(ctx); err != nil {
		s.log.Warn("debug server stop timed out", logx.Err(err))
		return
	}
	s.log.Info("debug server stopped")
}

func (s *Service) serve(ctx context.Context, run *instance) error {
	cfg := run.cfg
	addr := cfg.addr()
	insecure, err := checkBind(addr, cfg)
	if err != nil {
		s.log.Error("debug server: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		return err
	}
	if insecure {
		s.log.Warn("debug server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		s.log.Error("debug server listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(cfg.Token),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	run.mu.Lock()
	run.ln, run.srv = ln, srv
	run.mu.Unlock()
	defer func() {
		run.mu.Lock()
		run.ln, run.srv = nil, nil
		run.mu.Unlock()
		_ = srv.Close()
	}()

	stopWatch := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stopWatch()

	s.log.Info("debug server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}
