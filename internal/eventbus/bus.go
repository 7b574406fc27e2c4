package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory diagnostic signal.
//
// Contract:
//   - Publish never blocks; it runs on the frame goroutine.
//   - A subscriber whose buffer is full loses the event (counted in Dropped).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose Type is in types, or every event when
	// types is empty. unsubscribe closes ch and is idempotent.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped returns how many deliveries were lost to full subscriber buffers.
	Dropped() uint64
}

const defaultBuffer = 8

// New returns a fan-out bus without background goroutines.
func New() Bus {
	b := &memBus{}
	b.subs.Store(&[]*subscriber{})
	return b
}

type subscriber struct {
	types []string

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) wants(typ string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, typ)
}

// offer reports false when the event was lost to a full buffer.
func (s *subscriber) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

type memBus struct {
	// subs is copy-on-write; Publish reads it without taking writeMu.
	subs    atomic.Pointer[[]*subscriber]
	writeMu sync.Mutex
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range *b.subs.Load() {
		if s.wants(e.Type) && !s.offer(e) {
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{types: slices.Clone(types), ch: make(chan Event, buffer)}

	b.writeMu.Lock()
	next := append(slices.Clone(*b.subs.Load()), s)
	b.subs.Store(&next)
	b.writeMu.Unlock()

	return s.ch, func() {
		b.writeMu.Lock()
		next := slices.DeleteFunc(slices.Clone(*b.subs.Load()), func(x *subscriber) bool { return x == s })
		b.subs.Store(&next)
		b.writeMu.Unlock()
		s.close()
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
