package application

import (
	"time"

	"github.com/ericfisherdev/herald/internal/domain/model"
)

// RetryPolicy decides what happens to a message after a failed send attempt:
// exponential backoff for transient failures up to MaxRetries, immediate
// failure for fatal ones.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration // First retry waits BaseDelay; each further retry doubles it.
	MaxDelay   time.Duration // Backoff ceiling.
}

// Backoff returns the delay before the retry following the given failed
// attempt count: BaseDelay * 2^(attempts-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	// Beyond 32 doublings any realistic base exceeds the cap; avoids
	// shift overflow.
	if attempts-1 > 32 {
		return p.MaxDelay
	}
	d := p.BaseDelay << uint(attempts-1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		return p.MaxDelay
	}
	return d
}

// Next returns the message's state after a failed attempt at now. Transient
// failures increment attempts and either schedule a retry or, at MaxRetries,
// fail the message. Fatal failures count the attempt made and fail
// immediately.
func (p RetryPolicy) Next(msg model.OutboundMessage, kind model.FailureKind, errMsg string, now time.Time) model.OutboundMessage {
	msg.Attempts++
	msg.LastError = errMsg
	msg.UpdatedAt = now

	if kind == model.FailureFatal || msg.Attempts >= p.MaxRetries {
		msg.Status = model.MessageStatusFailed
		return msg
	}

	msg.Status = model.MessageStatusRetrying
	msg.NextAttemptAt = now.Add(p.Backoff(msg.Attempts))
	return msg
}
