package engine

import (
	"sync"
	"sync/atomic"

	"lendcore/core/events"
	"lendcore/core/types"
)

const defaultSubscriberBuffer = 64

// Hub fans committed events out to live subscribers. Slow subscribers lose
// events rather than stall the writer.
type Hub struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan *types.Event
	dropped atomic.Uint64
	closed  bool
}

var _ events.Emitter = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan *types.Event)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(ev events.Event) {
	env := events.ToEnvelope(ev)
	if env == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- env:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function is
// idempotent and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan *types.Event, buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if existing, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(existing)
			}
			h.mu.Unlock()
		})
	}
}

// Subscribers counts live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events not delivered to a full subscriber.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
