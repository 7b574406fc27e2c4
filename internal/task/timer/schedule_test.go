package timer

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron seconds", raw: "*/2 * * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 2s", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "1500ms", kind: SpecInterval, source: "duration", duration: 1500 * time.Millisecond},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every: 00:30", kind: SpecInterval, source: "hhmm", duration: 30 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if tt.kind == SpecCron && got.Cron == nil {
				t.Fatal("Cron schedule is nil")
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "interval:-5s", "00:00", "01:75", "* * *"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestFromScheduleBuildsTask(t *testing.T) {
	t.Parallel()
	n := 0
	task, err := FromSchedule("2s", func() { n++ })
	if err != nil {
		t.Fatalf("FromSchedule error: %v", err)
	}
	if task.Kind() != KindDelay {
		t.Fatalf("Kind = %v, want delay", task.Kind())
	}
	for i := 0; i < 4; i++ {
		task.Tick(Step{Delta: time.Second})
	}
	if n != 2 || task.IsDone() {
		t.Fatalf("interval task fired %d times, done=%v; want 2, false", n, task.IsDone())
	}

	task, err = FromSchedule("@every 1s", func() { n++ })
	if err != nil {
		t.Fatalf("FromSchedule error: %v", err)
	}
	if task.Kind() != KindCron {
		t.Fatalf("Kind = %v, want cron", task.Kind())
	}
}
