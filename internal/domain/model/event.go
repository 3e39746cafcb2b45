package model

import "time"

// Event is a structured record of a dispatcher lifecycle transition, fanned
// out to the configured sinks (log, metrics, message bus).
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	PlatformID string    `json:"platform_id"`
	MessageID  string    `json:"message_id,omitempty"` // Set for message_* events.
	MentionID  string    `json:"mention_id,omitempty"` // Set for mention_observed and handler_failure.
	Handler    string    `json:"handler,omitempty"`    // Set for handler_failure.
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
