package event

import (
	"encoding/json"
	"fmt"
	"time"

	errspkg "github.com/lodeworks/speedlayer/internal/errors"
	"github.com/lodeworks/speedlayer/internal/jsoncodec"
)

// Marshal renders an event as wire-format JSON.
func Marshal(e Event) ([]byte, error) {
	return jsoncodec.Marshal(e.ToDict())
}

// Unmarshal decodes wire-format JSON into a typed event.
func Unmarshal(data []byte) (Event, error) {
	var d map[string]any
	if err := jsoncodec.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode event json: %w", err)
	}
	return FromDict(d)
}

// decoders maps each event type to its payload decoder. The table is
// exhaustive over the declared types; EventType.Valid is defined in terms
// of it.
var decoders = map[EventType]func(Base, map[string]any) Event{
	DataCreated:          decodeDataEvent,
	DataUpdated:          decodeDataEvent,
	DataDeleted:          decodeDataEvent,
	DataValidated:        decodeValidationEvent,
	DataValidationFailed: decodeValidationEvent,
	ReviewStarted:        decodeReviewEvent,
	ReviewApproved:       decodeReviewEvent,
	ReviewRejected:       decodeReviewEvent,
	PromotionStarted:     decodePromotionEvent,
	PromotionCompleted:   decodePromotionEvent,
	PromotionFailed:      decodePromotionEvent,
	CrawlStarted:         decodeCrawlEvent,
	CrawlCompleted:       decodeCrawlEvent,
	CrawlFailed:          decodeCrawlEvent,
	BatchStarted:         decodeBatchEvent,
	BatchCompleted:       decodeBatchEvent,
	BatchFailed:          decodeBatchEvent,
	SystemAlert:          decodeSystemAlertEvent,
}

// FromDict reconstructs a typed event from its wire-format dictionary. The
// event_type discriminant selects the variant decoder.
func FromDict(d map[string]any) (Event, error) {
	t := EventType(strField(d, "event_type"))
	decode, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownEventType, t)
	}

	meta, err := metadataFromDict(mapField(d, "metadata"))
	if err != nil {
		return nil, fmt.Errorf("from dict: %w", err)
	}

	base := Base{
		EventType: t,
		Priority:  ParsePriority(strField(d, "priority")),
		Metadata:  meta,
	}
	return decode(base, d), nil
}

func metadataFromDict(d map[string]any) (Metadata, error) {
	if d == nil {
		return Metadata{}, fmt.Errorf("metadata is missing")
	}
	ts, err := time.Parse(time.RFC3339Nano, strField(d, "timestamp"))
	if err != nil {
		return Metadata{}, fmt.Errorf("parse metadata timestamp: %w", err)
	}
	return Metadata{
		EventID:       strField(d, "event_id"),
		Timestamp:     ts.UTC(),
		Source:        Source(strField(d, "source")),
		CorrelationID: strField(d, "correlation_id"),
		CausationID:   strField(d, "causation_id"),
		Version:       strField(d, "version"),
		RetryCount:    intField(d, "retry_count"),
		MaxRetries:    intField(d, "max_retries"),
	}, nil
}

func decodeDataEvent(base Base, d map[string]any) Event {
	return &DataEvent{
		Base:          base,
		SourceID:      strField(d, "source_id"),
		Collection:    strField(d, "collection"),
		DocumentID:    strField(d, "document_id"),
		Operation:     strField(d, "operation"),
		Data:          mapField(d, "data"),
		PreviousData:  mapField(d, "previous_data"),
		ChangedFields: stringsField(d, "changed_fields"),
	}
}

func decodeReviewEvent(base Base, d map[string]any) Event {
	return &ReviewEvent{
		Base:       base,
		ReviewID:   strField(d, "review_id"),
		SourceID:   strField(d, "source_id"),
		Collection: strField(d, "collection"),
		DocumentID: strField(d, "document_id"),
		Reviewer:   strField(d, "reviewer"),
		Notes:      strField(d, "notes"),
	}
}

func decodePromotionEvent(base Base, d map[string]any) Event {
	return &PromotionEvent{
		Base:           base,
		PromotionID:    strField(d, "promotion_id"),
		SourceID:       strField(d, "source_id"),
		FromCollection: strField(d, "from_collection"),
		ToCollection:   strField(d, "to_collection"),
		DocumentCount:  intField(d, "document_count"),
		Reason:         strField(d, "reason"),
	}
}

func decodeValidationEvent(base Base, d map[string]any) Event {
	return &ValidationEvent{
		Base:         base,
		SourceID:     strField(d, "source_id"),
		Collection:   strField(d, "collection"),
		DocumentID:   strField(d, "document_id"),
		Passed:       boolField(d, "passed"),
		QualityScore: floatField(d, "quality_score"),
		Errors:       issuesField(d, "errors"),
		Warnings:     issuesField(d, "warnings"),
	}
}

func decodeCrawlEvent(base Base, d map[string]any) Event {
	return &CrawlEvent{
		Base:         base,
		CrawlID:      strField(d, "crawl_id"),
		SourceID:     strField(d, "source_id"),
		CrawlerName:  strField(d, "crawler_name"),
		PagesCrawled: intField(d, "pages_crawled"),
		ItemsScraped: intField(d, "items_scraped"),
		Error:        strField(d, "error"),
	}
}

func decodeBatchEvent(base Base, d map[string]any) Event {
	return &BatchEvent{
		Base:             base,
		BatchID:          strField(d, "batch_id"),
		JobName:          strField(d, "job_name"),
		RecordsProcessed: intField(d, "records_processed"),
		DurationMillis:   int64Field(d, "duration_millis"),
		Error:            strField(d, "error"),
	}
}

func decodeSystemAlertEvent(base Base, d map[string]any) Event {
	return &SystemAlertEvent{
		Base:      base,
		Severity:  AlertSeverity(strField(d, "severity")),
		Component: strField(d, "component"),
		Message:   strField(d, "message"),
		Details:   mapField(d, "details"),
	}
}

// --- field helpers ---
//
// JSON decoding into map[string]any yields float64 for numbers; the helpers
// accept the native Go types as well so dictionaries built in process round
// trip identically.

func strField(d map[string]any, key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

func mapField(d map[string]any, key string) map[string]any {
	if v, ok := d[key].(map[string]any); ok {
		return v
	}
	return nil
}

func stringsField(d map[string]any, key string) []string {
	switch v := d[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func intField(d map[string]any, key string) int {
	return int(int64Field(d, key))
}

func int64Field(d map[string]any, key string) int64 {
	switch v := d[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func floatField(d map[string]any, key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func boolField(d map[string]any, key string) bool {
	if v, ok := d[key].(bool); ok {
		return v
	}
	return false
}

func issuesField(d map[string]any, key string) []Issue {
	raw, ok := d[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Issue, 0, len(raw))
	for _, item := range raw {
		id, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Issue{
			Field:   strField(id, "field"),
			Rule:    strField(id, "rule"),
			Message: strField(id, "message"),
		})
	}
	return out
}
