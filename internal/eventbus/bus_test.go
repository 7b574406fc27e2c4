package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub2()

	b.Publish(Event{Type: TypeTaskRegistered, Data: TaskEvent{Handle: "0@1"}})
	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeTaskRegistered || e.Time.IsZero() {
				t.Fatalf("event = %+v", e)
			}
			if d, ok := e.Data.(TaskEvent); !ok || d.Handle != "0@1" {
				t.Fatalf("data = %#v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	unsub1()
	unsub1()
	if _, ok := <-ch1; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// publishing after unsubscribe must not panic
	b.Publish(Event{Type: TypeLog})
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeFrameOverrun})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("Dropped = %d, want 4", got)
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	logs, unsub := b.Subscribe(4, TypeLog, TypeFrameOverrun)
	defer unsub()

	b.Publish(Event{Type: TypeTaskRegistered})
	b.Publish(Event{Type: TypeConfigApplied})
	b.Publish(Event{Type: TypeFrameOverrun})

	select {
	case e := <-logs:
		if e.Type != TypeFrameOverrun {
			t.Fatalf("got %q, want only filtered types", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered event not delivered")
	}
	select {
	case e := <-logs:
		t.Fatalf("unexpected extra event %q", e.Type)
	default:
	}
	if got := b.Dropped(); got != 0 {
		t.Fatalf("filtered-out events counted as dropped: %d", got)
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				b.Publish(Event{Type: TypeLog})
			}
		}
	}()
	for i := 0; i < 200; i++ {
		_, unsub := b.Subscribe(1)
		unsub()
	}
	close(stop)
	<-done
}
