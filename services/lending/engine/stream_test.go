package engine

import (
	"testing"

	"lendcore/core/events"
)

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	hub.Emit(events.RegistrySwapperUpdated{})
	hub.Emit(events.RegistrySwapperUpdated{})
	if got := hub.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	ev := <-ch
	if ev.Type != events.TypeRegistrySwapperUpdated {
		t.Fatalf("unexpected event %q", ev.Type)
	}
	cancel()
	cancel()
	if hub.Subscribers() != 0 {
		t.Fatalf("subscriber not removed")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after cancel")
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe(0)
	hub.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel open after close")
	}
	late, _ := hub.Subscribe(0)
	if _, ok := <-late; ok {
		t.Fatalf("subscription after close should be closed")
	}
	hub.Emit(nil)
}
