package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EventSink = MetricsSink{}

var metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "herald",
	Name:      "events_total",
	Help:      "Dispatch lifecycle events by type and platform.",
}, []string{"event", "platform"})

// MetricsSink counts events in Prometheus, labeled by type and platform. The
// counters are served by the /metrics endpoint.
type MetricsSink struct{}

func (MetricsSink) Emit(_ context.Context, ev model.Event) error {
	metricEvents.WithLabelValues(string(ev.Type), ev.PlatformID).Inc()
	return nil
}
