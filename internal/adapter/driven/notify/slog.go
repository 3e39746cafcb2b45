// Package notify provides the event sinks: structured log, Prometheus
// counters, and a NATS publisher.
package notify

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EventSink = SlogSink{}

// SlogSink writes every event to the structured log. Failure events log at
// warn, the rest at info.
type SlogSink struct{}

func (SlogSink) Emit(_ context.Context, ev model.Event) error {
	args := []any{"event", string(ev.Type), "platform", ev.PlatformID}
	if ev.MessageID != "" {
		args = append(args, "message", ev.MessageID)
	}
	if ev.MentionID != "" {
		args = append(args, "mention", ev.MentionID)
	}
	if ev.Handler != "" {
		args = append(args, "handler", ev.Handler)
	}
	if ev.Error != "" {
		args = append(args, "error", ev.Error)
	}

	switch ev.Type {
	case model.EventMessageFailed, model.EventHandlerFailure, model.EventPlatformDisabled:
		slog.Warn("dispatch event", args...)
	default:
		slog.Info("dispatch event", args...)
	}
	return nil
}
