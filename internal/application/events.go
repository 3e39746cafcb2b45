package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// EventEmitter fans lifecycle events out to the configured sinks.
type EventEmitter struct {
	sinks []driven.EventSink
}

// NewEventEmitter creates an emitter delivering to the given sinks.
func NewEventEmitter(sinks ...driven.EventSink) *EventEmitter {
	return &EventEmitter{sinks: sinks}
}

// Emit stamps the event with an ID and timestamp when unset, then delivers
// it to every sink. A sink error is logged and dropped so a failing sink
// never stalls dispatch or monitoring.
func (e *EventEmitter) Emit(ctx context.Context, ev model.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	for _, sink := range e.sinks {
		if err := sink.Emit(ctx, ev); err != nil {
			slog.Warn("event sink failed", "event", string(ev.Type), "error", err)
		}
	}
}
