package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: info
  console: true
  file: {enabled: false, path: ./framesched.log}
scheduler:
  initial_capacity: 64
  max_capacity: 4096
  shrink_growth_factor: 4
  shrink_free_ratio: 3
  diagnostics: true
host: {frame_rate: 60, fixed_step: 20ms, max_fixed_steps: 5, time_scale: 1}
diagnostics: {trace_rate_per_sec: 200, trace_burst: 400}
storage: {driver: sqlite, path: ./data/traces.db, busy_timeout: 2s}
debug: {enabled: false, addr: "127.0.0.1:6061"}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseYAMLAndJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		body string
	}{
		{"yaml", "config.yaml", sampleYAML},
		{"json", "config.json", `{
			"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": "./framesched.log"}},
			"scheduler": {"initial_capacity": 64, "max_capacity": 4096, "shrink_growth_factor": 4, "shrink_free_ratio": 3, "diagnostics": true},
			"host": {"frame_rate": 60, "fixed_step": "20ms", "max_fixed_steps": 5, "time_scale": 1},
			"diagnostics": {"trace_rate_per_sec": 200, "trace_burst": 400},
			"storage": {"driver": "sqlite", "path": "./data/traces.db", "busy_timeout": "2s"},
			"debug": {"enabled": false, "addr": "127.0.0.1:6061"}
		}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeFile(t, dir, tt.file, tt.body))
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Scheduler.MaxCapacity != 4096 || !cfg.Scheduler.Diagnostics {
				t.Fatalf("scheduler = %+v", cfg.Scheduler)
			}
			if cfg.Host.FixedStep != "20ms" || cfg.Host.TimeScale != 1 {
				t.Fatalf("host = %+v", cfg.Host)
			}
			if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
				t.Fatalf("storage = %+v", cfg.Storage)
			}
			if m.Get() != cfg {
				t.Fatal("Load did not commit")
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"unknown key", "c.yaml", "scheduler: {workers: 4}\n", "unknown field"},
		{"unknown section", "c.json", `{"telegram": {}}`, "unknown field"},
		{"trailing data", "c.json", `{"logging": {}} {"logging": {}}`, "trailing data"},
		{"bad yaml", "c.yml", "logging: [\n", "yaml unmarshal"},
		{"empty", "c.yaml", "  \n", "config is empty"},
		{"comments only", "c.yaml", "# nothing\n", "config is empty"},
		{"sniffed json", "config", `{"logging": {"levle": "x"}}`, "unknown field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.file, []byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Decode err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestValidateNamesKeyPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"max below initial", func(c *Config) { c.Scheduler.InitialCapacity = 10; c.Scheduler.MaxCapacity = 5 },
			"scheduler.max_capacity: must be >= initial_capacity"},
		{"negative ratio", func(c *Config) { c.Scheduler.ShrinkFreeRatio = -1 }, "scheduler.shrink_free_ratio"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad fixed step", func(c *Config) { c.Host.FixedStep = "soon" }, "host.fixed_step"},
		{"unit typo", func(c *Config) { c.Host.OverrunBudget = "40000h" }, "host.overrun_budget: duration 40000h0m0s exceeds"},
		{"negative time scale", func(c *Config) { c.Host.TimeScale = -2 }, "host.time_scale"},
		{"sqlite without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"unknown driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.driver"},
		{"bad retention", func(c *Config) { c.Storage = &StorageConfig{Driver: "file", Retention: "-1h"} }, "storage.retention"},
		{"bad debug addr", func(c *Config) { c.Debug = DebugConfig{Enabled: true, Addr: "6061"} }, "debug.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate err = %v, want %q", err, tt.want)
			}
		})
	}

	if err := Validate(&Config{}); err != nil {
		t.Fatalf("empty config should be valid: %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("a.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	newCfg, _ := Decode("a.yaml", []byte(sampleYAML))

	if changed, _ := SummarizeConfigChange(oldCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs changed = %v", changed)
	}

	newCfg.Scheduler.MaxCapacity = 128
	newCfg.Host.TimeScale = 0.5
	newCfg.Debug.Token = "secret"
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"debug", "host", "scheduler"}
	if !slices.Equal(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs for changed sections")
	}

	// "none" and an omitted section are the same
	a := &Config{Storage: &StorageConfig{Driver: "none", Path: "x"}}
	if changed, _ := SummarizeConfigChange(a, &Config{}); len(changed) != 0 {
		t.Fatalf("storage none vs nil changed = %v", changed)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx := context.Background()

	if m.Reload(ctx) {
		t.Fatal("unchanged file must not publish")
	}

	writeFile(t, dir, "config.yaml", strings.Replace(sampleYAML, "max_capacity: 4096", "max_capacity: 512", 1))
	if !m.Reload(ctx) {
		t.Fatal("changed file was not published")
	}
	got := <-ch
	if got.Scheduler.MaxCapacity != 512 {
		t.Fatalf("published max_capacity = %d", got.Scheduler.MaxCapacity)
	}

	// invalid content keeps the committed config
	writeFile(t, dir, "config.yaml", strings.Replace(sampleYAML, "max_capacity: 4096", "max_capacity: 8", 1))
	if m.Reload(ctx) {
		t.Fatal("invalid config was published")
	}
	if m.Get().Scheduler.MaxCapacity != 512 {
		t.Fatalf("committed config changed to %+v", m.Get().Scheduler)
	}

	// validator veto
	m.SetValidator(func(context.Context, *Config) error { return context.Canceled })
	writeFile(t, dir, "config.yaml", strings.Replace(sampleYAML, "max_capacity: 4096", "max_capacity: 1024", 1))
	if m.Reload(ctx) {
		t.Fatal("vetoed config was published")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("slow subscriber should receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("Unsubscribe must close the channel")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", sampleYAML)
	m := NewManager(path)
	m.SetDebounce(20 * time.Millisecond)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	body := strings.Replace(sampleYAML, "frame_rate: 60", "frame_rate: 30", 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	// rewrite until the watcher is up and sees it
	for {
		writeFile(t, dir, "config.yaml", body)
		select {
		case got := <-ch:
			if got.Host.FrameRate != 30 {
				t.Fatalf("frame_rate = %d, want 30", got.Host.FrameRate)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("watch did not publish the new config")
		}
	}
}
