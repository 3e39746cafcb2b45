package application

import (
	"sync"
	"time"

	"github.com/ericfisherdev/herald/internal/domain/model"
)

// DispatchQueue holds one platform's outbound messages in strict enqueue
// order. Eligibility is dynamic: pending messages are always eligible,
// retrying messages only once their backoff elapses. Order never changes, so
// a message that fails transiently keeps its original position ahead of
// anything enqueued after it.
type DispatchQueue struct {
	mu    sync.Mutex
	items []model.OutboundMessage
	wake  chan struct{}
}

// NewDispatchQueue creates an empty queue.
func NewDispatchQueue() *DispatchQueue {
	return &DispatchQueue{
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends the message and signals the wake channel.
func (q *DispatchQueue) Enqueue(msg model.OutboundMessage) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel signaled whenever a message is enqueued.
func (q *DispatchQueue) Wake() <-chan struct{} {
	return q.wake
}

// NextReady returns a copy of the earliest-enqueued message eligible at now.
// The message stays queued; claiming it is a separate Update to Sending.
func (q *DispatchQueue) NextReady(now time.Time) (model.OutboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, msg := range q.items {
		if msg.Due(now) {
			return msg, true
		}
	}
	return model.OutboundMessage{}, false
}

// Update replaces the stored message with the same ID, keeping its queue
// position. Returns false if the message is no longer queued.
func (q *DispatchQueue) Update(msg model.OutboundMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID == msg.ID {
			q.items[i] = msg
			return true
		}
	}
	return false
}

// Remove deletes the message from the queue once it reaches a terminal
// state. Returns false if the message is not queued.
func (q *DispatchQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// NextWake returns the earliest NextAttemptAt among retrying messages, used
// by the engine to sleep precisely while the queue holds only future work.
// ok is false when nothing is waiting on a timer.
func (q *DispatchQueue) NextWake() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var earliest time.Time
	var found bool
	for _, msg := range q.items {
		if msg.Status != model.MessageStatusRetrying {
			continue
		}
		if !found || msg.NextAttemptAt.Before(earliest) {
			earliest = msg.NextAttemptAt
			found = true
		}
	}
	return earliest, found
}

// Len returns the number of queued messages.
func (q *DispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queue contents in order.
func (q *DispatchQueue) Snapshot() []model.OutboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.OutboundMessage, len(q.items))
	copy(out, q.items)
	return out
}
