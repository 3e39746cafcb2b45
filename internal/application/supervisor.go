// Package application contains the dispatch core: per-platform send engines
// and mention monitors coordinated under one supervisor.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// PlatformConfig carries the resolved per-platform settings the dispatch
// core consumes. How the values were loaded is the config layer's concern.
type PlatformConfig struct {
	MinInterval         time.Duration
	PollInterval        time.Duration
	MaxRetries          int
	ErrorBaseDelay      time.Duration
	MaxBackoff          time.Duration
	MaxMentionsPerCycle int
	DefaultTarget       string // Destination used by Broadcast and target-less sends.
}

// platformRuntime bundles one platform's adapter, queue, and loops.
type platformRuntime struct {
	platform driven.Platform
	config   PlatformConfig
	queue    *DispatchQueue
	engine   *DispatchEngine
	monitor  *Monitor
	started  bool
}

// PlatformStatus is a point-in-time snapshot of one platform for the ops
// surface.
type PlatformStatus struct {
	PlatformID   string        `json:"platform_id"`
	Running      bool          `json:"running"`
	Queued       int           `json:"queued"`
	MinInterval  time.Duration `json:"min_interval"`
	PollInterval time.Duration `json:"poll_interval"`
}

// Supervisor owns the dispatch topology for the process: the vault handle,
// the shared rate limiter, and one engine plus one monitor per platform. It
// is built once at startup and passed explicitly to its callers.
type Supervisor struct {
	vault    driven.CredentialVault
	store    driven.MessageStore
	cursors  driven.CursorStore
	limiter  *RateLimiter
	registry *HandlerRegistry
	emitter  *EventEmitter

	mu       sync.Mutex
	runtimes map[string]*platformRuntime
	order    []string
}

// NewSupervisor creates a supervisor with no platforms registered.
func NewSupervisor(
	vault driven.CredentialVault,
	store driven.MessageStore,
	cursors driven.CursorStore,
	limiter *RateLimiter,
	registry *HandlerRegistry,
	emitter *EventEmitter,
) *Supervisor {
	return &Supervisor{
		vault:    vault,
		store:    store,
		cursors:  cursors,
		limiter:  limiter,
		registry: registry,
		emitter:  emitter,
		runtimes: make(map[string]*platformRuntime),
	}
}

// AddPlatform registers a platform and builds its queue, engine, and
// monitor. Must be called before Run.
func (s *Supervisor) AddPlatform(platform driven.Platform, config PlatformConfig) error {
	id := platform.ID()
	if id == "" {
		return errors.New("platform has empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runtimes[id]; exists {
		return fmt.Errorf("platform %q already registered", id)
	}

	queue := NewDispatchQueue()
	policy := RetryPolicy{
		MaxRetries: config.MaxRetries,
		BaseDelay:  config.ErrorBaseDelay,
		MaxDelay:   config.MaxBackoff,
	}
	engine := NewDispatchEngine(platform, queue, s.limiter, policy, s.store, s.emitter)

	monitor, err := NewMonitor(platform, s.limiter, s.registry, s.cursors, s.emitter,
		config.PollInterval, config.MaxMentionsPerCycle)
	if err != nil {
		return err
	}

	s.limiter.SetInterval(id, config.MinInterval)

	s.runtimes[id] = &platformRuntime{
		platform: platform,
		config:   config,
		queue:    queue,
		engine:   engine,
		monitor:  monitor,
	}
	s.order = append(s.order, id)
	return nil
}

// Enqueue creates a pending message and hands it to the platform's queue.
// An empty target falls back to the platform's configured default.
func (s *Supervisor) Enqueue(ctx context.Context, platformID, target, body string) (model.OutboundMessage, error) {
	s.mu.Lock()
	rt, ok := s.runtimes[platformID]
	s.mu.Unlock()
	if !ok {
		return model.OutboundMessage{}, fmt.Errorf("unknown platform %q", platformID)
	}

	if target == "" {
		target = rt.config.DefaultTarget
	}
	if target == "" {
		return model.OutboundMessage{}, fmt.Errorf("platform %q: no target given and no default configured", platformID)
	}

	now := time.Now().UTC()
	msg := model.OutboundMessage{
		ID:         uuid.NewString(),
		PlatformID: platformID,
		Target:     target,
		Body:       body,
		Status:     model.MessageStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Save(ctx, msg); err != nil {
		return model.OutboundMessage{}, fmt.Errorf("journal message: %w", err)
	}
	rt.queue.Enqueue(msg)

	slog.Info("message enqueued", "platform", platformID, "message", msg.ID, "target", target)
	return msg, nil
}

// Broadcast enqueues the body to every platform that has a default target,
// in registration order. Platforms without one are skipped.
func (s *Supervisor) Broadcast(ctx context.Context, body string) ([]model.OutboundMessage, error) {
	s.mu.Lock()
	order := make([]string, len(s.order))
	copy(order, s.order)
	s.mu.Unlock()

	var msgs []model.OutboundMessage
	for _, id := range order {
		s.mu.Lock()
		hasTarget := s.runtimes[id].config.DefaultTarget != ""
		s.mu.Unlock()
		if !hasTarget {
			slog.Debug("broadcast skipping platform without default target", "platform", id)
			continue
		}

		msg, err := s.Enqueue(ctx, id, "", body)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Status returns a snapshot of every registered platform, in registration
// order.
func (s *Supervisor) Status() []PlatformStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PlatformStatus, 0, len(s.order))
	for _, id := range s.order {
		rt := s.runtimes[id]
		out = append(out, PlatformStatus{
			PlatformID:   id,
			Running:      rt.started,
			Queued:       rt.queue.Len(),
			MinInterval:  rt.config.MinInterval,
			PollInterval: rt.config.PollInterval,
		})
	}
	return out
}

// Run recovers the journal, authenticates every platform, and drives the
// engines and monitors until ctx is canceled. A platform that fails
// authentication is reported and left out; the rest run normally.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	registered := len(s.order)
	s.mu.Unlock()
	if registered == 0 {
		return errors.New("no platforms registered")
	}

	if err := s.recoverJournal(ctx); err != nil {
		return err
	}

	started := s.authenticateAll(ctx)
	if started == 0 {
		return errors.New("no platform passed authentication")
	}

	g, gctx := errgroup.WithContext(ctx)
	s.mu.Lock()
	for _, id := range s.order {
		rt := s.runtimes[id]
		if !rt.started {
			continue
		}
		engine, monitor := rt.engine, rt.monitor
		g.Go(func() error { return engine.Run(gctx) })
		g.Go(func() error { return monitor.Run(gctx) })
	}
	s.mu.Unlock()

	slog.Info("supervisor running", "platforms", started)
	return g.Wait()
}

// recoverJournal requeues sends interrupted by a crash and reloads queued
// messages, preserving their original order.
func (s *Supervisor) recoverJournal(ctx context.Context) error {
	requeued, err := s.store.RequeueStaleSending(ctx)
	if err != nil {
		return fmt.Errorf("requeue stale sending: %w", err)
	}
	if requeued > 0 {
		slog.Info("requeued messages interrupted mid-send", "count", requeued)
	}

	msgs, err := s.store.ListByStatus(ctx, model.MessageStatusPending, model.MessageStatusRetrying)
	if err != nil {
		return fmt.Errorf("load queued messages: %w", err)
	}

	var loaded int
	for _, msg := range msgs {
		s.mu.Lock()
		rt, ok := s.runtimes[msg.PlatformID]
		s.mu.Unlock()
		if !ok {
			slog.Warn("journal holds message for unregistered platform",
				"platform", msg.PlatformID, "message", msg.ID)
			continue
		}
		rt.queue.Enqueue(msg)
		loaded++
	}
	if loaded > 0 {
		slog.Info("reloaded queued messages", "count", loaded)
	}
	return nil
}

// authenticateAll unlocks each platform's credentials and authenticates it.
// Returns the number of platforms ready to run.
func (s *Supervisor) authenticateAll(ctx context.Context) int {
	var started int

	s.mu.Lock()
	order := make([]string, len(s.order))
	copy(order, s.order)
	s.mu.Unlock()

	for _, id := range order {
		s.mu.Lock()
		rt := s.runtimes[id]
		s.mu.Unlock()

		rec, err := s.vault.Get(ctx, id)
		if err != nil && !errors.Is(err, driven.ErrCredentialNotFound) {
			s.disablePlatform(ctx, id, err)
			continue
		}
		// A platform with no stored record may still authenticate, e.g.
		// an unauthenticated relay; the adapter decides.

		err = rt.platform.Authenticate(ctx, rec)
		rec.Wipe()
		if err != nil {
			s.disablePlatform(ctx, id, err)
			continue
		}

		s.mu.Lock()
		rt.started = true
		s.mu.Unlock()
		started++
		slog.Info("platform authenticated", "platform", id)
	}
	return started
}

// disablePlatform reports an authentication failure and leaves the platform
// out of this run.
func (s *Supervisor) disablePlatform(ctx context.Context, platformID string, cause error) {
	slog.Error("platform disabled", "platform", platformID, "error", cause)
	s.emitter.Emit(ctx, model.Event{
		Type:       model.EventPlatformDisabled,
		PlatformID: platformID,
		Error:      cause.Error(),
	})
}
