package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetadata(t *testing.T) {
	meta := NewMetadata(SourceChangeStream)

	assert.NotEmpty(t, meta.EventID)
	assert.Equal(t, SourceChangeStream, meta.Source)
	assert.Equal(t, MetadataVersion, meta.Version)
	assert.Equal(t, 0, meta.RetryCount)
	assert.Equal(t, DefaultMaxRetries, meta.MaxRetries)
	assert.Equal(t, time.UTC, meta.Timestamp.Location())
}

func TestMetadataDictRoundTrip(t *testing.T) {
	meta := NewMetadata(SourceValidator)
	meta.CorrelationID = "corr-1"
	meta.CausationID = "cause-1"
	meta.RetryCount = 2

	decoded, err := metadataFromDict(meta.ToDict())
	require.NoError(t, err)
	assert.Equal(t, meta, decoded)
}

func TestPriorityOrdering(t *testing.T) {
	assert.Less(t, int(PriorityCritical), int(PriorityHigh))
	assert.Less(t, int(PriorityHigh), int(PriorityNormal))
	assert.Less(t, int(PriorityNormal), int(PriorityLow))
	assert.Less(t, int(PriorityLow), int(PriorityBackground))
}

func TestParsePriority(t *testing.T) {
	for p, name := range priorityNames {
		assert.Equal(t, p, ParsePriority(name))
	}
	assert.Equal(t, PriorityNormal, ParsePriority("no-such-priority"))
}

func TestSystemAlertSeveritySetsPriority(t *testing.T) {
	tests := []struct {
		severity AlertSeverity
		want     Priority
	}{
		{SeverityCritical, PriorityCritical},
		{SeverityError, PriorityHigh},
		{SeverityWarning, PriorityNormal},
		{SeverityInfo, PriorityLow},
	}
	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			evt := NewSystemAlertEvent(tt.severity, "listener", "something happened")
			assert.Equal(t, tt.want, evt.EventPriority())
		})
	}
}

func sampleEvents() []Event {
	data := NewDataEvent(DataCreated, PriorityNormal, "src-1", "staging_news", "doc-1", "insert",
		map[string]any{"title": "X", "url": "https://example.com"})
	data.ChangedFields = []string{"title", "url"}

	updated := NewDataEvent(DataUpdated, PriorityNormal, "src-1", "staging_news", "doc-2", "update",
		map[string]any{"title": "Y"})
	updated.PreviousData = map[string]any{"title": "X"}
	updated.ChangedFields = []string{"title"}

	validation := NewValidationEvent(false, "src-1", "staging_news", "doc-1", 78)
	validation.Errors = []Issue{{Field: "url", Rule: "not_null", Message: "url must not be null"}}
	validation.Warnings = []Issue{{Field: "title", Rule: "min_length", Message: "title is short"}}
	validation.Metadata.CausationID = data.Metadata.EventID

	crawl := NewCrawlEvent(CrawlCompleted, "crawl-1", "src-1", "news_spider")
	crawl.PagesCrawled = 12
	crawl.ItemsScraped = 34

	batch := NewBatchEvent(BatchFailed, "batch-1", "nightly-recompute")
	batch.RecordsProcessed = 100
	batch.DurationMillis = 4250
	batch.Error = "downstream timeout"

	alert := NewSystemAlertEvent(SeverityError, "listener", "resume token lost")
	alert.Details = map[string]any{"stream_id": "staging"}

	return []Event{
		data,
		updated,
		NewDataEvent(DataDeleted, PriorityNormal, "src-2", "staging_news", "doc-3", "delete", nil),
		validation,
		NewReviewEvent(ReviewStarted, "rev-1", "src-1", "review_queue", "doc-1"),
		NewPromotionEvent(PromotionCompleted, "promo-1", "src-1", "staging_news", "news", 42),
		crawl,
		batch,
		alert,
	}
}

func TestEventRoundTrip(t *testing.T) {
	for _, evt := range sampleEvents() {
		t.Run(string(evt.Type()), func(t *testing.T) {
			raw, err := Marshal(evt)
			require.NoError(t, err)

			decoded, err := Unmarshal(raw)
			require.NoError(t, err)

			assert.Equal(t, evt.Type(), decoded.Type())
			assert.Equal(t, evt.EventPriority(), decoded.EventPriority())
			assert.Equal(t, evt.ToDict(), decoded.ToDict())
			assert.Equal(t, time.UTC, decoded.Meta().Timestamp.Location())
		})
	}
}

func TestFromDictUnknownType(t *testing.T) {
	_, err := FromDict(map[string]any{"event_type": "nope.nope"})
	assert.Error(t, err)
}

func TestFromDictMissingMetadata(t *testing.T) {
	_, err := FromDict(map[string]any{"event_type": string(DataCreated)})
	assert.Error(t, err)
}

func TestTopicDeterminism(t *testing.T) {
	for _, et := range Types() {
		topic := TopicForType(et)
		assert.NotEmpty(t, topic)
		assert.NotEqual(t, TopicDefault, topic, "declared type %s must have an explicit topic", et)
		assert.Equal(t, topic, TopicForType(et), "topic lookup must be deterministic")
	}
	assert.Equal(t, TopicDefault, TopicForType(EventType("made.up")))
}

func TestTopicForEvent(t *testing.T) {
	evt := NewDataEvent(DataCreated, PriorityNormal, "src", "staging_news", "doc", "insert", nil)
	assert.Equal(t, TopicData, TopicForEvent(evt))

	val := NewValidationEvent(true, "src", "staging_news", "doc", 100)
	assert.Equal(t, TopicValidation, TopicForEvent(val))
}

func TestDLQTopic(t *testing.T) {
	assert.Equal(t, "crawler.data.events.dead", DLQTopic(TopicData))
}

func TestEventTypeValid(t *testing.T) {
	for _, et := range Types() {
		assert.True(t, et.Valid())
	}
	assert.False(t, EventType("bogus").Valid())
}
