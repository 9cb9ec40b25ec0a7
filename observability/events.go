package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"lendcore/core/events"
)

// EventMetrics counts emitted protocol events.
type EventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking structured protocol events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of emitted events segmented by family and type.",
			}, []string{"family", "type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the counter for the supplied event type.
func (m *EventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	family := normalized
	if idx := strings.IndexByte(normalized, '.'); idx > 0 {
		family = normalized[:idx]
	}
	m.emitted.WithLabelValues(family, normalized).Inc()
}

// Emit implements events.Emitter so the counter can sit in an emitter chain.
func (m *EventMetrics) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	m.Record(ev.EventType())
}
