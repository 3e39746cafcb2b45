package application

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// seenSetMultiplier sizes the dedup window relative to the per-cycle cap:
// wide enough to cover deferred batches, bounded so memory stays flat.
const seenSetMultiplier = 4

// Monitor polls one platform for mentions on a fixed interval and routes new
// ones through the handler chain. Poll attempts draw from the same rate
// budget as sends; a denied cycle is skipped outright rather than queued up.
type Monitor struct {
	platform    driven.Platform
	limiter     *RateLimiter
	registry    *HandlerRegistry
	cursors     driven.CursorStore
	emitter     *EventEmitter
	seen        *SeenSet
	sanitizer   *bluemonday.Policy
	interval    time.Duration
	maxPerCycle int
	cursor      string
}

// NewMonitor creates a monitor for the platform. maxPerCycle caps mentions
// processed per poll; excess mentions wait for the next cycle.
func NewMonitor(
	platform driven.Platform,
	limiter *RateLimiter,
	registry *HandlerRegistry,
	cursors driven.CursorStore,
	emitter *EventEmitter,
	interval time.Duration,
	maxPerCycle int,
) (*Monitor, error) {
	capacity := 64
	if maxPerCycle > 0 {
		capacity = maxPerCycle * seenSetMultiplier
	}
	seen, err := NewSeenSet(capacity)
	if err != nil {
		return nil, fmt.Errorf("monitor %s: %w", platform.ID(), err)
	}

	return &Monitor{
		platform:    platform,
		limiter:     limiter,
		registry:    registry,
		cursors:     cursors,
		emitter:     emitter,
		seen:        seen,
		sanitizer:   bluemonday.StrictPolicy(),
		interval:    interval,
		maxPerCycle: maxPerCycle,
	}, nil
}

// Run polls immediately, then on every interval tick, until ctx is canceled
// or a fatal poll failure disables this platform's monitoring. Other
// platforms are unaffected either way.
func (m *Monitor) Run(ctx context.Context) error {
	platformID := m.platform.ID()

	cursor, err := m.cursors.Get(ctx, platformID)
	if err != nil {
		slog.Error("load cursor failed, starting from scratch", "platform", platformID, "error", err)
	}
	m.cursor = cursor

	slog.Info("monitor started", "platform", platformID, "interval", m.interval)

	if !m.poll(ctx) {
		return nil
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor stopped", "platform", platformID)
			return nil
		case <-ticker.C:
			if !m.poll(ctx) {
				return nil
			}
		}
	}
}

// poll runs one cycle. Returns false when monitoring must stop.
func (m *Monitor) poll(ctx context.Context) bool {
	platformID := m.platform.ID()

	allowed, retryAfter := m.limiter.TryAcquire(platformID)
	if !allowed {
		// Skipped cycles are not made up later; the next tick polls as
		// usual.
		slog.Debug("poll skipped by rate limiter", "platform", platformID, "retry_after", retryAfter)
		return true
	}

	mentions, err := m.platform.FetchMentions(ctx, m.cursor)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if driven.KindOf(err) == model.FailureFatal {
			slog.Error("poll failed fatally, disabling platform monitor", "platform", platformID, "error", err)
			m.emitter.Emit(ctx, model.Event{
				Type:       model.EventPlatformDisabled,
				PlatformID: platformID,
				Error:      err.Error(),
			})
			return false
		}
		slog.Warn("poll failed, retrying next cycle", "platform", platformID, "error", err)
		return true
	}

	if len(mentions) == 0 {
		return true
	}

	// Mentions arrive oldest first. Duplicates from an overlapping fetch
	// window don't count against the cap: a platform whose marker rides only
	// on the batch tail would otherwise refetch the same capped prefix
	// forever and never reach it. Once the cap is spent on fresh mentions
	// the rest of the batch is left untouched, cursor included, and comes
	// back next fetch.
	var dispatched, duplicates, deferred int
	for i, mention := range mentions {
		if m.seen.Contains(mention.ID) {
			duplicates++
			if mention.Marker != "" {
				m.cursor = mention.Marker
			}
			continue
		}
		if m.maxPerCycle > 0 && dispatched >= m.maxPerCycle {
			deferred = len(mentions) - i
			break
		}

		m.seen.Seen(mention.ID)
		if mention.Marker != "" {
			m.cursor = mention.Marker
		}
		mention.Text = m.sanitize(mention.Text)
		m.emitter.Emit(ctx, model.Event{
			Type:       model.EventMentionObserved,
			PlatformID: platformID,
			MentionID:  mention.ID,
		})
		m.registry.Dispatch(ctx, mention)
		dispatched++
	}

	// The cursor persists past everything handled this cycle even when a
	// handler failed: duplicate suppression belongs to the seen set, not
	// to re-polling.
	if err := m.cursors.Put(ctx, platformID, m.cursor); err != nil {
		slog.Warn("persist cursor failed", "platform", platformID, "error", err)
	}

	slog.Info("poll cycle complete",
		"platform", platformID,
		"fetched", len(mentions),
		"dispatched", dispatched,
		"duplicates", duplicates,
		"deferred", deferred,
	)
	return true
}

// sanitize strips markup from mention text, leaving plain text for handlers.
func (m *Monitor) sanitize(text string) string {
	return html.UnescapeString(m.sanitizer.Sanitize(text))
}
