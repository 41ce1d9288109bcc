// Package event defines the typed domain events flowing through the speed
// layer, their metadata, and the static topic table that routes them. Every
// variant shares the Base contract and serializes losslessly through ToDict
// and FromDict, dispatching on the event_type discriminant.
package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of domain event discriminants. The dotted
// namespace groups events by pipeline stage and drives both serialization
// dispatch and topic lookup.
type EventType string

const (
	DataCreated          EventType = "data.created"
	DataUpdated          EventType = "data.updated"
	DataDeleted          EventType = "data.deleted"
	DataValidated        EventType = "data.validated"
	DataValidationFailed EventType = "data.validation_failed"

	ReviewStarted  EventType = "review.started"
	ReviewApproved EventType = "review.approved"
	ReviewRejected EventType = "review.rejected"

	PromotionStarted   EventType = "promotion.started"
	PromotionCompleted EventType = "promotion.completed"
	PromotionFailed    EventType = "promotion.failed"

	CrawlStarted   EventType = "crawl.started"
	CrawlCompleted EventType = "crawl.completed"
	CrawlFailed    EventType = "crawl.failed"

	BatchStarted   EventType = "batch.started"
	BatchCompleted EventType = "batch.completed"
	BatchFailed    EventType = "batch.failed"

	SystemAlert EventType = "system.alert"
)

// Types returns every declared EventType. The slice is freshly allocated so
// callers can mutate it freely.
func Types() []EventType {
	return []EventType{
		DataCreated, DataUpdated, DataDeleted, DataValidated, DataValidationFailed,
		ReviewStarted, ReviewApproved, ReviewRejected,
		PromotionStarted, PromotionCompleted, PromotionFailed,
		CrawlStarted, CrawlCompleted, CrawlFailed,
		BatchStarted, BatchCompleted, BatchFailed,
		SystemAlert,
	}
}

// Valid reports whether t is one of the declared event types.
func (t EventType) Valid() bool {
	_, ok := decoders[t]
	return ok
}

// Priority orders events for delivery. Lower values are more urgent.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

var priorityNames = map[Priority]string{
	PriorityCritical:   "critical",
	PriorityHigh:       "high",
	PriorityNormal:     "normal",
	PriorityLow:        "low",
	PriorityBackground: "background",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "normal"
}

// ParsePriority converts a wire-format priority name back to a Priority.
// Unknown names map to PriorityNormal.
func ParsePriority(name string) Priority {
	for p, n := range priorityNames {
		if n == name {
			return p
		}
	}
	return PriorityNormal
}

// Source identifies the subsystem that emitted an event.
type Source string

const (
	SourceChangeStream Source = "change_stream"
	SourceProcessor    Source = "processor"
	SourceValidator    Source = "validator"
	SourceCrawler      Source = "crawler"
	SourceScheduler    Source = "scheduler"
	SourceSystem       Source = "system"
)

// MetadataVersion is the wire-format version stamped on every event.
const MetadataVersion = "1.0"

// DefaultMaxRetries bounds redelivery attempts when the emitter does not set
// an explicit limit.
const DefaultMaxRetries = 3

// Metadata carries the delivery bookkeeping shared by all events. It is
// immutable after construction except RetryCount, which only increases
// monotonically during redelivery.
type Metadata struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	Source        Source    `json:"source"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	Version       string    `json:"version"`
	RetryCount    int       `json:"retry_count"`
	MaxRetries    int       `json:"max_retries"`
}

// NewMetadata builds metadata for a freshly emitted event: a UUID event id,
// a UTC timestamp, and the default retry budget.
func NewMetadata(source Source) Metadata {
	return Metadata{
		EventID:    uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Source:     source,
		Version:    MetadataVersion,
		MaxRetries: DefaultMaxRetries,
	}
}

// ToDict renders the metadata as JSON-safe primitives. Timestamps use
// RFC 3339 with nanosecond precision so the round trip is lossless.
func (m Metadata) ToDict() map[string]any {
	d := map[string]any{
		"event_id":    m.EventID,
		"timestamp":   m.Timestamp.UTC().Format(time.RFC3339Nano),
		"source":      string(m.Source),
		"version":     m.Version,
		"retry_count": m.RetryCount,
		"max_retries": m.MaxRetries,
	}
	if m.CorrelationID != "" {
		d["correlation_id"] = m.CorrelationID
	}
	if m.CausationID != "" {
		d["causation_id"] = m.CausationID
	}
	return d
}

// Event is the contract shared by all domain event variants.
type Event interface {
	// Type returns the event discriminant.
	Type() EventType
	// EventPriority returns the delivery priority assigned at construction.
	EventPriority() Priority
	// Meta exposes the shared metadata. The pointer allows the processor to
	// advance RetryCount during redelivery; every other field is immutable.
	Meta() *Metadata
	// ToDict renders the full event, payload included, as JSON-safe
	// primitives matching the wire format.
	ToDict() map[string]any
}

// Base carries the fields shared by every variant. Variants embed it by
// value and implement ToDict themselves.
type Base struct {
	EventType EventType `json:"event_type"`
	Priority  Priority  `json:"priority"`
	Metadata  Metadata  `json:"metadata"`
}

func newBase(t EventType, p Priority, source Source) Base {
	return Base{EventType: t, Priority: p, Metadata: NewMetadata(source)}
}

func (b *Base) Type() EventType         { return b.EventType }
func (b *Base) EventPriority() Priority { return b.Priority }
func (b *Base) Meta() *Metadata         { return &b.Metadata }

func (b *Base) baseDict() map[string]any {
	return map[string]any{
		"event_type": string(b.EventType),
		"priority":   b.Priority.String(),
		"metadata":   b.Metadata.ToDict(),
	}
}
