package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// DispatchEngine drains one platform's queue, honoring the shared rate
// limiter and the retry policy. All state transitions for the platform's
// messages happen inside Run, so at most one send is in flight at a time.
type DispatchEngine struct {
	platform driven.Platform
	queue    *DispatchQueue
	limiter  *RateLimiter
	policy   RetryPolicy
	store    driven.MessageStore
	emitter  *EventEmitter
}

// NewDispatchEngine creates an engine for the platform.
func NewDispatchEngine(
	platform driven.Platform,
	queue *DispatchQueue,
	limiter *RateLimiter,
	policy RetryPolicy,
	store driven.MessageStore,
	emitter *EventEmitter,
) *DispatchEngine {
	return &DispatchEngine{
		platform: platform,
		queue:    queue,
		limiter:  limiter,
		policy:   policy,
		store:    store,
		emitter:  emitter,
	}
}

// Run processes messages until ctx is canceled. When nothing is eligible it
// sleeps until the next backoff expiry or a new enqueue; when the rate
// limiter denies, it sleeps out the advised wait and re-picks the candidate,
// since an earlier message's backoff may have expired in the meantime.
func (e *DispatchEngine) Run(ctx context.Context) error {
	platformID := e.platform.ID()
	slog.Info("dispatch engine started", "platform", platformID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatch engine stopped", "platform", platformID)
			return nil
		default:
		}

		msg, ok := e.queue.NextReady(time.Now().UTC())
		if !ok {
			if !e.idle(ctx) {
				slog.Info("dispatch engine stopped", "platform", platformID)
				return nil
			}
			continue
		}

		allowed, retryAfter := e.limiter.TryAcquire(platformID)
		if !allowed {
			if !sleepCtx(ctx, retryAfter) {
				slog.Info("dispatch engine stopped", "platform", platformID)
				return nil
			}
			continue
		}

		e.attempt(ctx, msg)
	}
}

// idle blocks until a message is enqueued, the earliest retry comes due, or
// ctx is canceled. Returns false on cancellation.
func (e *DispatchEngine) idle(ctx context.Context) bool {
	var timerC <-chan time.Time
	if wakeAt, ok := e.queue.NextWake(); ok {
		d := time.Until(wakeAt)
		if d <= 0 {
			return true
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-e.queue.Wake():
		return true
	case <-timerC:
		return true
	}
}

// attempt claims the message, performs one send, and applies the outcome.
func (e *DispatchEngine) attempt(ctx context.Context, msg model.OutboundMessage) {
	platformID := e.platform.ID()

	msg.Status = model.MessageStatusSending
	msg.UpdatedAt = time.Now().UTC()
	e.queue.Update(msg)
	e.persist(ctx, msg)

	err := e.platform.Send(ctx, msg)
	now := time.Now().UTC()

	if err == nil {
		msg.Status = model.MessageStatusSent
		msg.UpdatedAt = now
		e.queue.Remove(msg.ID)
		e.persist(ctx, msg)
		slog.Info("message sent", "platform", platformID, "message", msg.ID, "attempts", msg.Attempts)
		e.emitter.Emit(ctx, model.Event{
			Type:       model.EventMessageSent,
			PlatformID: platformID,
			MessageID:  msg.ID,
		})
		return
	}

	if ctx.Err() != nil {
		// Shutdown cut the send short, which says nothing about the message
		// itself. It goes back to pending without burning an attempt; the
		// startup requeue covers the journaled row if this persist loses the
		// race with process exit.
		msg.Status = model.MessageStatusPending
		msg.UpdatedAt = now
		e.queue.Update(msg)
		e.persist(context.WithoutCancel(ctx), msg)
		slog.Info("send aborted by shutdown, message stays pending", "platform", platformID, "message", msg.ID)
		return
	}

	msg = e.policy.Next(msg, driven.KindOf(err), err.Error(), now)

	if msg.Status == model.MessageStatusFailed {
		e.queue.Remove(msg.ID)
		e.persist(ctx, msg)
		slog.Error("message failed",
			"platform", platformID,
			"message", msg.ID,
			"attempts", msg.Attempts,
			"error", err,
		)
		e.emitter.Emit(ctx, model.Event{
			Type:       model.EventMessageFailed,
			PlatformID: platformID,
			MessageID:  msg.ID,
			Error:      err.Error(),
		})
		return
	}

	// Retrying: the message keeps its queue position until the backoff
	// elapses.
	e.queue.Update(msg)
	e.persist(ctx, msg)
	slog.Warn("send failed, will retry",
		"platform", platformID,
		"message", msg.ID,
		"attempts", msg.Attempts,
		"next_attempt_at", msg.NextAttemptAt,
		"error", err,
	)
}

// persist journals the message state. A store failure is logged, not fatal:
// the in-memory queue stays authoritative for this run.
func (e *DispatchEngine) persist(ctx context.Context, msg model.OutboundMessage) {
	if err := e.store.Save(ctx, msg); err != nil {
		slog.Error("persist message failed", "message", msg.ID, "error", err)
	}
}

// sleepCtx sleeps for d unless ctx is canceled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
