package listener

import (
	"fmt"
	"strings"
	"time"

	"github.com/lodeworks/speedlayer/internal/event"
)

// Override pins the event type and priority emitted for every change in one
// collection, regardless of the operation. This is how domain collections
// like reviews or crawl results surface as their own event class instead of
// generic data events.
type Override struct {
	EventType event.EventType
	Priority  event.Priority
}

// DefaultOverrides covers the domain collections the pipeline knows about.
var DefaultOverrides = map[string]Override{
	"reviews":       {EventType: event.ReviewStarted, Priority: event.PriorityHigh},
	"crawl_results": {EventType: event.CrawlCompleted, Priority: event.PriorityNormal},
}

// operationTypes maps stream operations to the generic data event types.
var operationTypes = map[string]event.EventType{
	OpInsert:  event.DataCreated,
	OpUpdate:  event.DataUpdated,
	OpReplace: event.DataUpdated,
	OpDelete:  event.DataDeleted,
}

// Transformer turns raw changes into typed events.
type Transformer struct {
	sourceID  string
	overrides map[string]Override
}

// NewTransformer builds a transformer for one logical source. A nil override
// table falls back to DefaultOverrides.
func NewTransformer(sourceID string, overrides map[string]Override) *Transformer {
	if overrides == nil {
		overrides = DefaultOverrides
	}
	return &Transformer{sourceID: sourceID, overrides: overrides}
}

// Transform maps a change to its typed event. Unknown operations are a
// serialization failure: the caller logs, skips the change, and advances the
// token so the stream never wedges on one bad record.
func (t *Transformer) Transform(c *Change) (event.Event, error) {
	if override, ok := t.overrides[c.Collection]; ok {
		return t.overrideEvent(c, override), nil
	}

	eventType, ok := operationTypes[c.Operation]
	if !ok {
		return nil, fmt.Errorf("unsupported change operation %q on collection %q", c.Operation, c.Collection)
	}

	evt := event.NewDataEvent(
		eventType,
		collectionPriority(c.Collection),
		t.sourceID,
		c.Collection,
		c.DocumentID,
		c.Operation,
		sanitizeDocument(c.Document),
	)
	evt.PreviousData = sanitizeDocument(c.BeforeDocument)
	evt.ChangedFields = c.ChangedFields
	return evt, nil
}

func (t *Transformer) overrideEvent(c *Change, o Override) event.Event {
	switch {
	case strings.HasPrefix(string(o.EventType), "review."):
		evt := event.NewReviewEvent(o.EventType, c.DocumentID, t.sourceID, c.Collection, c.DocumentID)
		evt.Priority = o.Priority
		return evt
	case strings.HasPrefix(string(o.EventType), "crawl."):
		evt := event.NewCrawlEvent(o.EventType, c.DocumentID, t.sourceID, "")
		evt.Priority = o.Priority
		return evt
	default:
		evt := event.NewDataEvent(o.EventType, o.Priority, t.sourceID, c.Collection, c.DocumentID, c.Operation, sanitizeDocument(c.Document))
		evt.PreviousData = sanitizeDocument(c.BeforeDocument)
		evt.ChangedFields = c.ChangedFields
		return evt
	}
}

// collectionPriority grades collections by their pipeline role: review,
// lineage and error collections carry operator-facing state, staging and
// everything else is routine ingest.
func collectionPriority(collection string) event.Priority {
	switch {
	case strings.HasPrefix(collection, "review"),
		strings.HasPrefix(collection, "lineage"),
		strings.HasPrefix(collection, "error"):
		return event.PriorityHigh
	default:
		return event.PriorityNormal
	}
}

// sanitizeDocument converts driver-native values into JSON-safe primitives
// so the event survives the wire round trip.
func sanitizeDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		return sanitizeDocument(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return val
	}
}
