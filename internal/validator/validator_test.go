package validator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/speedlayer/internal/broker"
	"github.com/lodeworks/speedlayer/internal/event"
	"github.com/lodeworks/speedlayer/internal/processor"
)

type stubRegistry struct {
	configs map[string]*SourceConfig
	err     error
	calls   int
}

func (r *stubRegistry) GetSourceConfig(ctx context.Context, sourceID string) (*SourceConfig, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.configs[sourceID], nil
}

type capturingEmitter struct {
	mu     sync.Mutex
	events []event.Event
}

func (e *capturingEmitter) Process(ctx context.Context, evt event.Event) (*processor.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil, nil
}

func (e *capturingEmitter) all() []event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]event.Event, len(e.events))
	copy(out, e.events)
	return out
}

func dataEvent(t event.EventType, collection string, data map[string]any) *event.DataEvent {
	return event.NewDataEvent(t, event.PriorityNormal, "src-news", collection, "doc-1", "insert", data)
}

func TestProfileScoring(t *testing.T) {
	profile := &Profile{
		SourceID: "src-news",
		Rules: []FieldRule{
			{Field: "url", Rule: RuleNotNull},
			{Field: "title", Rule: RuleNotNull},
			{Field: "title", Rule: RuleMinLength, Expected: 5},
		},
	}

	clean := profile.Validate(map[string]any{"url": "https://example.com", "title": "headline"})
	assert.True(t, clean.Passed)
	assert.Equal(t, float64(100), clean.QualityScore)
	assert.Empty(t, clean.Errors)
	assert.Empty(t, clean.Warnings)

	// Two errors and one warning: 100 - 20 - 2 = 78.
	dirty := profile.Validate(map[string]any{"title": "x"})
	assert.False(t, dirty.Passed)
	assert.Equal(t, float64(78), dirty.QualityScore)
	assert.Len(t, dirty.Errors, 2)
	assert.Len(t, dirty.Warnings, 1)
}

func TestProfileScoreFloorsAtZero(t *testing.T) {
	rules := make([]FieldRule, 12)
	for i := range rules {
		rules[i] = FieldRule{Field: "f", Rule: RuleNotNull}
	}
	result := (&Profile{Rules: rules}).Validate(map[string]any{})
	assert.Equal(t, float64(0), result.QualityScore)
}

func TestNotNullIsErrorNotWarning(t *testing.T) {
	profile := &Profile{Rules: []FieldRule{{Field: "url", Rule: RuleNotNull}}}

	missing := profile.Validate(map[string]any{"title": "x"})
	require.Len(t, missing.Errors, 1)
	assert.Empty(t, missing.Warnings)
	assert.Equal(t, RuleNotNull, missing.Errors[0].Rule)
	assert.Equal(t, "url", missing.Errors[0].Field)

	explicitNull := profile.Validate(map[string]any{"url": nil})
	assert.Len(t, explicitNull.Errors, 1)
}

func TestTypeRule(t *testing.T) {
	profile := &Profile{Rules: []FieldRule{
		{Field: "count", Rule: RuleType, Expected: "number"},
	}}

	assert.True(t, profile.Validate(map[string]any{"count": 3}).Passed)
	assert.True(t, profile.Validate(map[string]any{"count": 3.5}).Passed)
	assert.False(t, profile.Validate(map[string]any{"count": "three"}).Passed)
	// Absent values are the not_null rule's concern.
	assert.True(t, profile.Validate(map[string]any{}).Passed)
}

func TestCacheTTL(t *testing.T) {
	cache := NewCache(20 * time.Millisecond)
	profile := StrictDefaultProfile("src-news")

	assert.Nil(t, cache.Get("src-news"))
	cache.Set("src-news", profile)
	assert.Same(t, profile, cache.Get("src-news"))

	time.Sleep(30 * time.Millisecond)
	assert.Nil(t, cache.Get("src-news"))
}

// TestCacheEvictionKeepsFreshEntry covers the window between a read that
// observes an expired entry and the eviction taking the write lock: a Set
// landing in between must not be discarded.
func TestCacheEvictionKeepsFreshEntry(t *testing.T) {
	cache := NewCache(time.Minute)
	fresh := StrictDefaultProfile("src-news")

	cache.entries["src-news"] = cacheEntry{
		profile:   StrictDefaultProfile("src-news"),
		expiresAt: time.Now().Add(-time.Second),
	}
	cache.Set("src-news", fresh)
	cache.evictExpired("src-news")
	assert.Same(t, fresh, cache.Get("src-news"))

	cache.entries["src-stale"] = cacheEntry{
		profile:   StrictDefaultProfile("src-stale"),
		expiresAt: time.Now().Add(-time.Second),
	}
	cache.evictExpired("src-stale")
	assert.Equal(t, 1, cache.Len())
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewCache(time.Minute)
	cache.Set("src-news", StrictDefaultProfile("src-news"))
	cache.Invalidate("src-news")
	assert.Nil(t, cache.Get("src-news"))
}

func TestValidatorSkipsNonQualifyingEvents(t *testing.T) {
	v := New(Config{Collections: []string{"staging_news"}})

	// Wrong event type.
	require.NoError(t, v.Handle(context.Background(), dataEvent(event.DataDeleted, "staging_news", nil)))
	// Wrong collection.
	require.NoError(t, v.Handle(context.Background(), dataEvent(event.DataCreated, "other", nil)))
	// Not a data event at all.
	require.NoError(t, v.Handle(context.Background(), event.NewSystemAlertEvent(event.SeverityInfo, "test", "hello")))

	assert.Zero(t, v.Stats().TotalValidated)
}

func TestValidatorEmitsFailureWithCausation(t *testing.T) {
	emitter := &capturingEmitter{}
	v := New(Config{Emitter: emitter})

	src := dataEvent(event.DataCreated, "staging_news", map[string]any{"title": "X", "url": nil})
	require.NoError(t, v.Handle(context.Background(), src))

	emitted := emitter.all()
	require.Len(t, emitted, 1)
	ve, ok := emitted[0].(*event.ValidationEvent)
	require.True(t, ok)

	assert.Equal(t, event.DataValidationFailed, ve.Type())
	assert.Equal(t, float64(90), ve.QualityScore)
	require.Len(t, ve.Errors, 1)
	assert.Equal(t, "url", ve.Errors[0].Field)
	assert.Equal(t, src.Metadata.EventID, ve.Meta().CausationID)
	assert.Equal(t, src.Metadata.EventID, ve.Meta().CorrelationID)
}

func TestValidatorPropagatesCorrelation(t *testing.T) {
	emitter := &capturingEmitter{}
	v := New(Config{Emitter: emitter})

	src := dataEvent(event.DataCreated, "staging_news", map[string]any{"title": "X", "url": "https://example.com"})
	src.Metadata.CorrelationID = "corr-7"
	require.NoError(t, v.Handle(context.Background(), src))

	emitted := emitter.all()
	require.Len(t, emitted, 1)
	assert.Equal(t, event.DataValidated, emitted[0].Type())
	assert.Equal(t, "corr-7", emitted[0].Meta().CorrelationID)
}

func TestValidatorBlockOnFailure(t *testing.T) {
	passThrough := New(Config{})
	bad := dataEvent(event.DataCreated, "staging_news", map[string]any{"title": "X"})
	assert.NoError(t, passThrough.Handle(context.Background(), bad))

	blocking := New(Config{BlockOnFailure: true})
	bad = dataEvent(event.DataCreated, "staging_news", map[string]any{"title": "X"})
	assert.Error(t, blocking.Handle(context.Background(), bad))

	good := dataEvent(event.DataCreated, "staging_news", map[string]any{"title": "X", "url": "https://example.com"})
	assert.NoError(t, blocking.Handle(context.Background(), good))
}

// A blocked event is redelivered by the processor until its retries are
// exhausted; every redelivery re-runs the validator. Only the first delivery
// may emit a validation event and count in the stats.
func TestValidatorBlockOnFailureEmitsOncePerSourceEvent(t *testing.T) {
	b := broker.NewInMemoryBroker(nil)
	proc, err := processor.New(b, nil, processor.Config{
		Backoff:        processor.BackoffConfig{BaseDelay: time.Millisecond},
		DisableMetrics: true,
	})
	require.NoError(t, err)

	v := New(Config{BlockOnFailure: true, Emitter: proc})
	_, err = proc.RegisterHandler(event.TopicData, v)
	require.NoError(t, err)

	tap := &tapHandler{}
	_, err = proc.RegisterHandler(event.TopicValidation, tap)
	require.NoError(t, err)

	bad := dataEvent(event.DataCreated, "staging_news", map[string]any{"title": "X", "url": nil})
	env, err := proc.Process(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, processor.StatusDeadLetter, env.Status)
	assert.Equal(t, event.DefaultMaxRetries, bad.Metadata.RetryCount)

	emitted := tap.all()
	require.Len(t, emitted, 1)
	ve, ok := emitted[0].(*event.ValidationEvent)
	require.True(t, ok)
	assert.Equal(t, event.DataValidationFailed, ve.Type())
	assert.Equal(t, bad.Metadata.EventID, ve.Metadata.CausationID)

	stats := v.Stats()
	assert.Equal(t, uint64(1), stats.TotalValidated)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.ByRule[RuleNotNull])
}

type tapHandler struct {
	mu     sync.Mutex
	events []event.Event
}

func (h *tapHandler) Name() string { return "tap" }

func (h *tapHandler) Handle(ctx context.Context, evt event.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
	return nil
}

func (h *tapHandler) OnError(ctx context.Context, evt event.Event, err error) {}

func (h *tapHandler) all() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event.Event, len(h.events))
	copy(out, h.events)
	return out
}

func TestValidatorUsesRegistryProfile(t *testing.T) {
	registry := &stubRegistry{configs: map[string]*SourceConfig{
		"src-news": {
			SourceID: "src-news",
			Fields: []FieldConfig{
				{Name: "headline", Required: true, Type: "string", MinLength: 3},
			},
		},
	}}
	v := New(Config{Registry: registry})

	bad := dataEvent(event.DataCreated, "staging_news", map[string]any{"headline": 42})
	require.NoError(t, v.Handle(context.Background(), bad))

	stats := v.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.ByRule[RuleType])

	// Second event for the same source hits the cache.
	require.NoError(t, v.Handle(context.Background(), dataEvent(event.DataCreated, "staging_news", map[string]any{"headline": "ok!"})))
	assert.Equal(t, 1, registry.calls)
}

func TestValidatorFallsBackOnRegistryError(t *testing.T) {
	registry := &stubRegistry{err: errors.New("registry down")}
	v := New(Config{Registry: registry})

	evt := dataEvent(event.DataCreated, "staging_news", map[string]any{"title": "X", "url": "u"})
	require.NoError(t, v.Handle(context.Background(), evt))
	assert.Equal(t, uint64(1), v.Stats().Passed)
}

func TestValidatorStatsAndReset(t *testing.T) {
	v := New(Config{})

	require.NoError(t, v.Handle(context.Background(), dataEvent(event.DataCreated, "staging_news", map[string]any{"title": "X", "url": "u"})))
	require.NoError(t, v.Handle(context.Background(), dataEvent(event.DataCreated, "staging_news", map[string]any{"title": "X"})))

	stats := v.Stats()
	assert.Equal(t, uint64(2), stats.TotalValidated)
	assert.Equal(t, uint64(1), stats.Passed)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.InDelta(t, 0.5, stats.PassRate, 1e-9)
	assert.Equal(t, uint64(2), stats.BySource["src-news"])
	assert.Equal(t, uint64(1), stats.ByRule[RuleNotNull])
	assert.False(t, stats.LastValidated.IsZero())

	v.ResetStats()
	stats = v.Stats()
	assert.Zero(t, stats.TotalValidated)
	assert.Empty(t, stats.BySource)
}
