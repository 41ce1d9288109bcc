// Package processor wraps events in delivery envelopes, publishes them
// through a broker, and owns the retry and dead-letter bookkeeping. Delivery
// is at-least-once: an envelope is retried with exponential backoff until its
// event's retry budget is exhausted, then parked in the dead-letter store
// instead of being discarded.
package processor

import (
	"time"

	"github.com/lodeworks/speedlayer/internal/event"
)

// Status is the envelope processing state machine:
// PENDING → PROCESSING → {COMPLETED | FAILED}; FAILED → RETRYING →
// PROCESSING while the retry budget lasts, then DEAD_LETTER.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusDeadLetter Status = "dead_letter"
)

// Envelope pairs an event with its processing bookkeeping. It is owned
// exclusively by the processor that created it and is never shared across
// processor instances.
type Envelope struct {
	Event        event.Event `json:"-"`
	Topic        string      `json:"topic"`
	Status       Status      `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	ProcessedAt  time.Time   `json:"processed_at,omitempty"`
	RetryCount   int         `json:"retry_count"`
	ErrorHistory []string    `json:"error_history,omitempty"`
}

// newEnvelope derives the topic once, through the shared topic table, and
// starts the state machine at PENDING.
func newEnvelope(evt event.Event) *Envelope {
	return &Envelope{
		Event:     evt,
		Topic:     event.TopicForEvent(evt),
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func (e *Envelope) recordFailure(err error) {
	e.Status = StatusFailed
	e.ErrorHistory = append(e.ErrorHistory, err.Error())
}
