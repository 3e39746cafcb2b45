package model

import "time"

// Mention is an inbound event where the agent was addressed on a platform.
// ID is stable for a given platform event and drives duplicate suppression.
// Marker is the platform's opaque cursor token for this event; polling
// resumes from the marker of the last processed mention.
type Mention struct {
	ID         string
	PlatformID string
	Author     string
	Text       string
	Marker     string
	ObservedAt time.Time
}
