package model

import "time"

// OutboundMessage is a message queued for delivery to one platform. A message
// moves pending -> sending -> sent, or through retrying back to sending on
// transient failures, and lands in failed once retries are exhausted or a
// fatal error occurs. Sent and failed are terminal.
type OutboundMessage struct {
	ID            string
	PlatformID    string
	Target        string // Platform-specific destination ("owner/repo#42", "!room:server").
	Body          string
	Status        MessageStatus
	Attempts      int // Delivery attempts made so far.
	LastError     string
	CreatedAt     time.Time
	NextAttemptAt time.Time // Earliest time the next attempt may run.
	UpdatedAt     time.Time
}

// Due reports whether the message is eligible for a delivery attempt at now.
// Pending messages are always due; retrying messages wait out their backoff.
func (m OutboundMessage) Due(now time.Time) bool {
	switch m.Status {
	case MessageStatusPending:
		return true
	case MessageStatusRetrying:
		return !m.NextAttemptAt.After(now)
	}
	return false
}
