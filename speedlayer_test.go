package speedlayer_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	speedlayer "github.com/lodeworks/speedlayer"
)

// fixedSource replays a canned change sequence, honoring resume tokens.
type fixedSource struct {
	changes []*speedlayer.Change
}

func (s *fixedSource) Watch(ctx context.Context, opts speedlayer.WatchOptions) (speedlayer.ChangeCursor, error) {
	start := 0
	if opts.ResumeToken != "" {
		for i, c := range s.changes {
			if c.Token == opts.ResumeToken {
				start = i + 1
				break
			}
		}
	}
	return &fixedCursor{changes: s.changes, next: start}, nil
}

type fixedCursor struct {
	changes []*speedlayer.Change
	next    int
}

func (c *fixedCursor) TryNext(ctx context.Context) (*speedlayer.Change, error) {
	if c.next >= len(c.changes) {
		return nil, nil
	}
	change := c.changes[c.next]
	c.next++
	return change, nil
}

func (c *fixedCursor) Close(ctx context.Context) error { return nil }

type collector struct {
	mu     sync.Mutex
	name   string
	events []speedlayer.Event
}

func (h *collector) Name() string { return h.name }

func (h *collector) Handle(ctx context.Context, evt speedlayer.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
	return nil
}

func (h *collector) OnError(ctx context.Context, evt speedlayer.Event, err error) {}

func (h *collector) all() []speedlayer.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]speedlayer.Event, len(h.events))
	copy(out, h.events)
	return out
}

// TestPipelineFlagsBadDocument drives the full pipeline: a staged document
// with a null url flows from the change stream through the processor to the
// validator, which emits a failed validation event scored 90.
func TestPipelineFlagsBadDocument(t *testing.T) {
	b := speedlayer.NewInMemoryBroker(nil)
	proc, err := speedlayer.NewProcessor(b, nil, speedlayer.ProcessorConfig{
		Backoff:        speedlayer.BackoffConfig{BaseDelay: time.Millisecond},
		DisableMetrics: true,
	})
	require.NoError(t, err)

	v := speedlayer.NewValidator(speedlayer.ValidatorConfig{
		Collections: []string{"staging_news"},
		Emitter:     proc,
	})
	_, err = proc.RegisterHandler(speedlayer.TopicData, v)
	require.NoError(t, err)

	validationTap := &collector{name: "validation-tap"}
	_, err = proc.RegisterHandler(speedlayer.TopicValidation, validationTap)
	require.NoError(t, err)

	dataTap := &collector{name: "data-tap"}
	_, err = proc.RegisterHandler(speedlayer.TopicData, dataTap)
	require.NoError(t, err)

	source := &fixedSource{changes: []*speedlayer.Change{{
		Token:      "t001",
		Collection: "staging_news",
		DocumentID: "doc-1",
		Operation:  "insert",
		Document:   map[string]any{"title": "X", "url": nil},
		Timestamp:  time.Now().UTC(),
	}}}

	store := speedlayer.NewMemoryTokenStore()
	l, err := speedlayer.NewListener(speedlayer.ListenerConfig{
		StreamID:     "news-stream",
		SourceID:     "src-news",
		Source:       source,
		Tokens:       store,
		Processor:    proc,
		PollInterval: 2 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool {
		return len(validationTap.all()) >= 1
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, l.Stop(context.Background()))

	// The data event reached the data topic.
	dataEvents := dataTap.all()
	require.Len(t, dataEvents, 1)
	de, ok := dataEvents[0].(*speedlayer.DataEvent)
	require.True(t, ok)
	assert.Equal(t, speedlayer.DataCreated, de.Type())
	assert.Equal(t, "staging_news", de.Collection)

	// The validator flagged the null url.
	emitted := validationTap.all()
	require.Len(t, emitted, 1)
	ve, ok := emitted[0].(*speedlayer.ValidationEvent)
	require.True(t, ok)
	assert.Equal(t, speedlayer.DataValidationFailed, ve.Type())
	assert.Equal(t, float64(90), ve.QualityScore)
	require.Len(t, ve.Errors, 1)
	assert.Equal(t, "url", ve.Errors[0].Field)
	assert.Equal(t, de.Meta().EventID, ve.Meta().CausationID)

	// The listener checkpointed the stream position.
	tok, err := store.Load(context.Background(), "news-stream")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "t001", tok.Token)

	stats := v.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
}

// TestPipelineWireRoundTrip publishes an event through the channel broker
// and confirms the wire format decodes back to the same event.
func TestPipelineWireRoundTrip(t *testing.T) {
	evt := speedlayer.NewDataEvent(speedlayer.DataCreated, speedlayer.PriorityNormal,
		"src-news", "staging_news", "doc-9", "insert",
		map[string]any{"title": "hello", "rank": float64(3)})

	payload, err := speedlayer.MarshalEvent(evt)
	require.NoError(t, err)

	decoded, err := speedlayer.UnmarshalEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, evt.ToDict(), decoded.ToDict())
	assert.Equal(t, speedlayer.TopicData, speedlayer.TopicForEvent(decoded))
}

// TestProcessorDeadLetterFlow exercises retry exhaustion end to end through
// the facade.
func TestProcessorDeadLetterFlow(t *testing.T) {
	b := speedlayer.NewInMemoryBroker(nil)
	proc, err := speedlayer.NewProcessor(b, nil, speedlayer.ProcessorConfig{
		Backoff:        speedlayer.BackoffConfig{BaseDelay: time.Millisecond},
		DisableMetrics: true,
	})
	require.NoError(t, err)

	failing := speedlayer.FuncHandler{
		HandlerName: "always-fails",
		HandleFunc: func(ctx context.Context, evt speedlayer.Event) error {
			return fmt.Errorf("downstream unavailable")
		},
	}
	_, err = proc.RegisterHandler(speedlayer.TopicSystem, &failing)
	require.NoError(t, err)

	evt := speedlayer.NewSystemAlertEvent(speedlayer.SeverityError, "ingest", "disk filling up")
	env, err := proc.Process(context.Background(), evt)
	require.Error(t, err)
	assert.Equal(t, speedlayer.StatusDeadLetter, env.Status)

	parked, err := proc.DeadLetters(context.Background())
	require.NoError(t, err)
	assert.Len(t, parked, 1)
}
