package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"framesched/internal/task/timer"
)

var (
	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("scheduler: closed")
	// ErrUnknownPhase is returned by Register for a phase outside Early..Late.
	ErrUnknownPhase = errors.New("scheduler: unknown phase")
)

// Phase is one of the fixed per-frame points at which items are updated.
// The host drives them in declaration order.
type Phase uint8

const (
	PhaseEarly Phase = iota
	PhasePhysics
	PhaseLate

	phaseCount = 3
)

func (p Phase) String() string {
	switch p {
	case PhaseEarly:
		return "early"
	case PhasePhysics:
		return "physics"
	case PhaseLate:
		return "late"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

func (p Phase) valid() bool { return p < phaseCount }

// ParsePhase maps "early", "physics" or "late" to a Phase.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "early":
		return PhaseEarly, nil
	case "physics", "fixed":
		return PhasePhysics, nil
	case "late":
		return PhaseLate, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPhase, s)
	}
}

// Handle identifies a registered item. The zero Handle is invalid.
type Handle struct {
	Generation uint64
	Index      uint32
}

// IsValid reports whether h was ever issued. A valid handle may still be stale.
func (h Handle) IsValid() bool { return h.Generation != 0 }

func (h Handle) String() string { return fmt.Sprintf("%d@%d", h.Index, h.Generation) }

// Config tunes the runner's storage.
type Config struct {
	// InitialCapacity is the number of slots reserved up front.
	InitialCapacity int
	// MaxCapacity bounds the number of live items (0 = unbounded).
	MaxCapacity int
	// ShrinkGrowthFactor and ShrinkFreeRatio drive the end-of-frame compaction:
	// storage is shrunk once it grew past InitialCapacity*ShrinkGrowthFactor
	// slots and free slots outnumber live ones by more than ShrinkFreeRatio.
	ShrinkGrowthFactor int
	ShrinkFreeRatio    float64
	// Diagnostics enables the registration hooks.
	Diagnostics bool
}

func DefaultConfig() Config {
	return Config{
		InitialCapacity:    64,
		MaxCapacity:        4096,
		ShrinkGrowthFactor: 4,
		ShrinkFreeRatio:    3,
	}
}

func (c Config) normalized() Config {
	if c.InitialCapacity < 0 {
		c.InitialCapacity = 0
	}
	if c.MaxCapacity < 0 {
		c.MaxCapacity = 0
	}
	if c.MaxCapacity > 0 && c.InitialCapacity > c.MaxCapacity {
		c.InitialCapacity = c.MaxCapacity
	}
	if c.ShrinkGrowthFactor < 1 {
		c.ShrinkGrowthFactor = 1
	}
	if c.ShrinkFreeRatio < 0 {
		c.ShrinkFreeRatio = 0
	}
	return c
}

// Reason tells why an item left the runner.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonCompleted
	ReasonCancelled
	ReasonClosed
)

func (r Reason) String() string {
	switch r {
	case ReasonCompleted:
		return "completed"
	case ReasonCancelled:
		return "cancelled"
	case ReasonClosed:
		return "closed"
	default:
		return "none"
	}
}

// ItemInfo describes an item to the diagnostic hooks.
type ItemInfo struct {
	Handle Handle
	Kind   timer.Kind
	Phase  Phase
	// Reason is set for OnUnregister only.
	Reason Reason
}

// Hooks are optional registration listeners. They run synchronously on the
// frame goroutine and only while Config.Diagnostics is true.
type Hooks struct {
	OnRegister   func(ItemInfo)
	OnUnregister func(ItemInfo)
}

type ItemSnapshot struct {
	Handle  Handle        `json:"handle"`
	Kind    string        `json:"kind"`
	Phase   string        `json:"phase"`
	State   string        `json:"state"`
	Paused  bool          `json:"paused"`
	Done    bool          `json:"done"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
	Ticks   int           `json:"ticks,omitempty"`
	Next    time.Time     `json:"next,omitzero"`
}

// Snapshot is a point-in-time copy of the runner state.
type Snapshot struct {
	Frame      uint64 `json:"frame"`
	Generation uint64 `json:"generation"`
	Closed     bool   `json:"closed"`

	Pending int `json:"pending"`
	Active  int `json:"active"`

	Slots       int `json:"slots"`
	Allocated   int `json:"allocated"`
	Free        int `json:"free"`
	MaxCapacity int `json:"max_capacity"`

	Registered uint64 `json:"registered"`
	Completed  uint64 `json:"completed"`
	Cancelled  uint64 `json:"cancelled"`
	Rejected   uint64 `json:"rejected"`
	Shrinks    uint64 `json:"shrinks"`

	Items []ItemSnapshot `json:"items,omitempty"`
}
