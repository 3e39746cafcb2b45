package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MessageStore = (*MessageRepo)(nil)

// MessageRepo is the SQLite implementation of the MessageStore port: the
// durable journal behind the in-memory dispatch queues.
type MessageRepo struct {
	db *DB
}

// NewMessageRepo creates a new MessageRepo backed by the given DB.
func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Save inserts or updates the message row. Identity fields are written once;
// delivery state fields are updated on conflict so the insertion rowid, and
// with it reload order, stays stable across status transitions.
func (r *MessageRepo) Save(ctx context.Context, msg model.OutboundMessage) error {
	const query = `
		INSERT INTO messages (
			id, platform_id, target, body, status, attempts, last_error,
			created_at, next_attempt_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			next_attempt_at = excluded.next_attempt_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		msg.ID, msg.PlatformID, msg.Target, msg.Body, string(msg.Status),
		msg.Attempts, msg.LastError,
		msg.CreatedAt.UTC(), msg.NextAttemptAt.UTC(), msg.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}

	return nil
}

// Get retrieves a single message by ID. Returns nil, nil if no such message
// exists.
func (r *MessageRepo) Get(ctx context.Context, id string) (*model.OutboundMessage, error) {
	const query = `
		SELECT id, platform_id, target, body, status, attempts, last_error,
		       created_at, next_attempt_at, updated_at
		FROM messages
		WHERE id = ?
	`

	msg, err := scanMessage(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	return msg, nil
}

// ListByStatus returns messages in the given states, oldest first in
// insertion order. An empty status list returns all messages.
func (r *MessageRepo) ListByStatus(ctx context.Context, statuses ...model.MessageStatus) ([]model.OutboundMessage, error) {
	query := `
		SELECT id, platform_id, target, body, status, attempts, last_error,
		       created_at, next_attempt_at, updated_at
		FROM messages
	`
	var args []any
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at, rowid"

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.OutboundMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

// RequeueStaleSending flips messages stuck in sending back to pending.
// Called once at startup: a row left in sending means the process died
// mid-attempt, and redelivery is acceptable under at-least-once semantics.
func (r *MessageRepo) RequeueStaleSending(ctx context.Context) (int, error) {
	const query = `UPDATE messages SET status = ?, updated_at = ? WHERE status = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(model.MessageStatusPending), time.Now().UTC(), string(model.MessageStatusSending),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale sending: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*model.OutboundMessage, error) {
	var msg model.OutboundMessage
	var status string
	var createdAt, nextAttemptAt, updatedAt string

	err := s.Scan(
		&msg.ID, &msg.PlatformID, &msg.Target, &msg.Body, &status,
		&msg.Attempts, &msg.LastError, &createdAt, &nextAttemptAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = model.MessageStatus(status)

	msg.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	msg.NextAttemptAt, err = parseTime(nextAttemptAt)
	if err != nil {
		return nil, fmt.Errorf("parse next_attempt_at: %w", err)
	}

	msg.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &msg, nil
}

// parseTime tries the datetime formats SQLite hands back depending on how
// the value was bound.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}
