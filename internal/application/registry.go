package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// HandlerRegistry invokes mention handlers in registration order. Each
// invocation is isolated: an error or panic in one handler is reported as a
// handler_failure event and never prevents later handlers from running.
type HandlerRegistry struct {
	emitter  *EventEmitter
	handlers []driven.MentionHandler
}

// NewHandlerRegistry creates an empty registry reporting failures through
// emitter.
func NewHandlerRegistry(emitter *EventEmitter) *HandlerRegistry {
	return &HandlerRegistry{emitter: emitter}
}

// Register appends a handler to the chain.
func (r *HandlerRegistry) Register(h driven.MentionHandler) {
	r.handlers = append(r.handlers, h)
}

// Len returns the number of registered handlers.
func (r *HandlerRegistry) Len() int {
	return len(r.handlers)
}

// Dispatch runs every handler for the mention, in order.
func (r *HandlerRegistry) Dispatch(ctx context.Context, mention model.Mention) {
	for _, h := range r.handlers {
		if err := r.invoke(ctx, h, mention); err != nil {
			slog.Error("mention handler failed",
				"handler", h.Name(),
				"platform", mention.PlatformID,
				"mention", mention.ID,
				"error", err,
			)
			r.emitter.Emit(ctx, model.Event{
				Type:       model.EventHandlerFailure,
				PlatformID: mention.PlatformID,
				MentionID:  mention.ID,
				Handler:    h.Name(),
				Error:      err.Error(),
			})
		}
	}
}

// invoke calls the handler, converting a panic into an error.
func (r *HandlerRegistry) invoke(ctx context.Context, h driven.MentionHandler, mention model.Mention) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h.Handle(ctx, mention)
}

// LogHandler writes each mention to the structured log. It is the default
// handler when none are configured.
type LogHandler struct{}

// Name implements MentionHandler.
func (LogHandler) Name() string { return "log" }

// Handle implements MentionHandler.
func (LogHandler) Handle(_ context.Context, mention model.Mention) error {
	slog.Info("mention received",
		"platform", mention.PlatformID,
		"author", mention.Author,
		"text", mention.Text,
	)
	return nil
}

// FuncHandler adapts a named function to the MentionHandler port, for
// handlers registered programmatically.
type FuncHandler struct {
	HandlerName string
	Fn          func(ctx context.Context, mention model.Mention) error
}

// Name implements MentionHandler.
func (h FuncHandler) Name() string { return h.HandlerName }

// Handle implements MentionHandler.
func (h FuncHandler) Handle(ctx context.Context, mention model.Mention) error {
	return h.Fn(ctx, mention)
}
