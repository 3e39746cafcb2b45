package driven

import (
	"context"

	"github.com/ericfisherdev/herald/internal/domain/model"
)

// MessageStore defines the driven port for the durable outbound message
// journal. The in-memory queues schedule work; this store is the source of
// truth across restarts.
type MessageStore interface {
	// Save inserts or replaces the message row.
	Save(ctx context.Context, msg model.OutboundMessage) error

	// Get returns the message by ID, or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*model.OutboundMessage, error)

	// ListByStatus returns messages in the given states, oldest first by
	// creation order. An empty status list returns all messages.
	ListByStatus(ctx context.Context, statuses ...model.MessageStatus) ([]model.OutboundMessage, error)

	// RequeueStaleSending flips messages stuck in sending back to pending.
	// Called once at startup to recover from a crash mid-send; redelivery
	// is possible, which the at-least-once contract permits.
	RequeueStaleSending(ctx context.Context) (int, error)
}

// CursorStore defines the driven port for per-platform monitor cursor
// persistence.
type CursorStore interface {
	// Get returns the platform's cursor, or "" when none is stored.
	Get(ctx context.Context, platformID string) (string, error)

	// Put stores the platform's cursor.
	Put(ctx context.Context, platformID, cursor string) error
}
