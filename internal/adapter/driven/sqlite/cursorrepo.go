package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CursorStore = (*CursorRepo)(nil)

// CursorRepo is the SQLite implementation of the CursorStore port. One row
// per platform holds the marker of the last processed mention.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new CursorRepo backed by the given DB.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Get returns the platform's cursor, or "" if none has been stored yet.
func (r *CursorRepo) Get(ctx context.Context, platformID string) (string, error) {
	const query = `SELECT marker FROM cursors WHERE platform_id = ?`

	var marker string
	err := r.db.Reader.QueryRowContext(ctx, query, platformID).Scan(&marker)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor %q: %w", platformID, err)
	}
	return marker, nil
}

// Put stores or replaces the platform's cursor.
func (r *CursorRepo) Put(ctx context.Context, platformID, marker string) error {
	const query = `INSERT OR REPLACE INTO cursors (platform_id, marker, updated_at) VALUES (?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query, platformID, marker, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put cursor %q: %w", platformID, err)
	}
	return nil
}
