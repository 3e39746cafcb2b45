package model

// MessageStatus represents the delivery state of an outbound message.
type MessageStatus string

const (
	MessageStatusPending  MessageStatus = "pending"
	MessageStatusSending  MessageStatus = "sending"
	MessageStatusSent     MessageStatus = "sent"
	MessageStatusRetrying MessageStatus = "retrying"
	MessageStatusFailed   MessageStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s MessageStatus) Terminal() bool {
	return s == MessageStatusSent || s == MessageStatusFailed
}

// Valid reports whether the status is one of the known delivery states.
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusPending, MessageStatusSending, MessageStatusSent,
		MessageStatusRetrying, MessageStatusFailed:
		return true
	}
	return false
}

// FailureKind classifies a platform operation failure.
type FailureKind string

const (
	FailureTransient FailureKind = "transient" // Retry with backoff.
	FailureFatal     FailureKind = "fatal"     // No retry; bad payload, revoked auth.
)

// EventType identifies the kind of lifecycle event the dispatcher emits.
type EventType string

const (
	EventMessageSent      EventType = "message_sent"
	EventMessageFailed    EventType = "message_failed"
	EventMentionObserved  EventType = "mention_observed"
	EventHandlerFailure   EventType = "handler_failure"
	EventPlatformDisabled EventType = "platform_disabled"
)
