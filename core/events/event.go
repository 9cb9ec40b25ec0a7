package events

import "lendcore/core/types"

// Event represents a structured state change emitted by a market, the ledger
// or one of the liquidity venues.
type Event interface {
	EventType() string
}

// Envelope is implemented by events that can render themselves as a flat
// attribute map for indexers and the HTTP API.
type Envelope interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. HTTP, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans every event out to each wrapped emitter in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(ev Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(ev)
		}
	}
}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// ToEnvelope renders ev as a types.Event, falling back to a bare type tag for
// events without attributes.
func ToEnvelope(ev Event) *types.Event {
	if ev == nil {
		return nil
	}
	if env, ok := ev.(Envelope); ok {
		return env.Event()
	}
	return &types.Event{Type: ev.EventType(), Attributes: map[string]string{}}
}
