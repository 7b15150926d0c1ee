package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
	dropped prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the counters tracking market events fanned out to
// subscribers.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmarket",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Market events segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendmarket",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped because a subscriber fell behind.",
			}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordEvent increments the counter for an event type.
func (m *eventMetrics) RecordEvent(typ string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(typ))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// RecordDrop counts an event a slow subscriber missed.
func (m *eventMetrics) RecordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
