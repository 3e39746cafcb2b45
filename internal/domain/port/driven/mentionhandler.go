package driven

import (
	"context"

	"github.com/ericfisherdev/herald/internal/domain/model"
)

// MentionHandler processes one inbound mention. Handlers run in registration
// order; a handler's error or panic is isolated and never stops the chain or
// the monitor cycle.
type MentionHandler interface {
	// Name identifies the handler in failure events.
	Name() string

	// Handle processes the mention. The mention text has already been
	// sanitized to plain text.
	Handle(ctx context.Context, mention model.Mention) error
}

// EventSink receives dispatcher lifecycle events. Emit must not block the
// dispatch path; slow sinks should buffer or drop internally. Emit errors
// are logged by the emitter and otherwise ignored.
type EventSink interface {
	Emit(ctx context.Context, ev model.Event) error
}
