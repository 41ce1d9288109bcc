package listener

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lodeworks/speedlayer/internal/broker"
	errspkg "github.com/lodeworks/speedlayer/internal/errors"
	"github.com/lodeworks/speedlayer/internal/event"
	"github.com/lodeworks/speedlayer/internal/logging"
	"github.com/lodeworks/speedlayer/internal/processor"
	"github.com/lodeworks/speedlayer/internal/tokens"
)

// State is the listener lifecycle:
// Idle → Watching → (Watching ⇄ RecoverableError) → Stopping → Idle.
type State string

const (
	StateIdle             State = "idle"
	StateWatching         State = "watching"
	StateRecoverableError State = "recoverable_error"
	StateStopping         State = "stopping"
)

const (
	defaultPollInterval    = 100 * time.Millisecond
	defaultReopenDelay     = time.Second
	defaultCheckpointEvery = 1
)

// Config wires a listener to its change source and token store.
type Config struct {
	// StreamID keys the resume token. One listener owns one stream id.
	StreamID string
	Source   ChangeSource
	Tokens   tokens.Store
	// Processor optionally runs every emitted event through the delivery
	// pipeline in addition to the directly registered handlers.
	Processor *processor.Processor
	// Collections and Operations are passed to the source as allow-lists.
	Collections []string
	Operations  []string
	// Overrides replaces DefaultOverrides when non-nil.
	Overrides map[string]Override
	// SourceID is stamped on emitted events. Defaults to StreamID.
	SourceID string
	// CheckpointEvery persists the token every N processed changes. The
	// default of 1 persists after every change; the final token is always
	// persisted on drain regardless.
	CheckpointEvery int
	// PollInterval is the idle sleep when the cursor has no change.
	PollInterval time.Duration
	// ReopenDelay is the wait before reopening the cursor after an error.
	ReopenDelay time.Duration
	Logger      logging.ServiceLogger
}

func (c Config) withDefaults() Config {
	if c.SourceID == "" {
		c.SourceID = c.StreamID
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = defaultCheckpointEvery
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ReopenDelay <= 0 {
		c.ReopenDelay = defaultReopenDelay
	}
	if c.Logger == nil {
		c.Logger = logging.NopLogger()
	}
	return c
}

// Stats is a snapshot of the listener counters for health checks.
type Stats struct {
	State          State     `json:"state"`
	EventsEmitted  uint64    `json:"events_emitted"`
	ErrorCount     uint64    `json:"error_count"`
	SkippedChanges uint64    `json:"skipped_changes"`
	TokenResets    uint64    `json:"token_resets"`
	LastEventAt    time.Time `json:"last_event_at"`
}

// Listener runs one change stream as a single cooperative pull loop. Events
// are emitted in stream order; handler dispatch is sequential so order is
// preserved per stream.
type Listener struct {
	cfg         Config
	transformer *Transformer
	logger      logging.ServiceLogger

	mu       sync.Mutex
	handlers []broker.EventHandler
	state    State
	stats    Stats
	cancel   context.CancelFunc
	done     chan struct{}

	// Single-writer token bookkeeping, touched only by the run goroutine.
	lastToken *tokens.ResumeToken
	unsaved   int
}

// New validates the config and builds an idle listener.
func New(cfg Config) (*Listener, error) {
	if cfg.StreamID == "" {
		return nil, errspkg.ErrStreamIDRequired
	}
	if cfg.Source == nil {
		return nil, errspkg.ErrSourceRequired
	}
	if cfg.Tokens == nil {
		return nil, errspkg.ErrTokenStoreRequired
	}
	cfg = cfg.withDefaults()
	return &Listener{
		cfg:         cfg,
		transformer: NewTransformer(cfg.SourceID, cfg.Overrides),
		logger:      cfg.Logger.With(logging.LogFields{"stream_id": cfg.StreamID}),
		state:       StateIdle,
	}, nil
}

// RegisterHandler adds a handler to the dispatch list. Handlers receive
// events in registration order.
func (l *Listener) RegisterHandler(h broker.EventHandler) error {
	if h == nil {
		return errspkg.ErrHandlerRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
	return nil
}

// Start launches the watch loop. It returns immediately; the loop runs until
// Stop is called or the context is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle {
		return errspkg.ErrListenerRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = StateWatching

	go l.run(runCtx)
	return nil
}

// Stop signals the loop to drain. In-flight dispatch completes and the final
// token is persisted before the listener returns to Idle.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateIdle {
		l.mu.Unlock()
		return nil
	}
	l.state = StateStopping
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a snapshot of the listener counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.State = l.state
	return s
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	defer l.setState(StateIdle)
	// Final persist uses a fresh context: the run context is already
	// cancelled during a drain.
	defer l.persistToken(context.Background(), true)

	resume := l.loadResumePosition(ctx)

	for ctx.Err() == nil {
		cursor, err := l.cfg.Source.Watch(ctx, WatchOptions{
			Collections: l.cfg.Collections,
			Operations:  l.cfg.Operations,
			ResumeToken: resume,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrHistoryLost) {
				resume = l.resetResumePosition(ctx)
				continue
			}
			l.setState(StateRecoverableError)
			l.logger.Error("failed to open change stream", err, nil)
			if !sleepCtx(ctx, l.cfg.ReopenDelay) {
				return
			}
			continue
		}

		l.setState(StateWatching)
		resume = l.consume(ctx, cursor, resume)
		cursor.Close(context.Background())
	}
}

// consume drains the cursor until it errors or the context is cancelled. It
// returns the resume position to reopen with.
func (l *Listener) consume(ctx context.Context, cursor ChangeCursor, resume string) string {
	for {
		change, err := cursor.TryNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return resume
			}
			if errors.Is(err, ErrHistoryLost) {
				return l.resetResumePosition(ctx)
			}
			l.setState(StateRecoverableError)
			l.logger.Error("change stream cursor failed", err, nil)
			sleepCtx(ctx, l.cfg.ReopenDelay)
			return resume
		}
		if change == nil {
			if !sleepCtx(ctx, l.cfg.PollInterval) {
				return resume
			}
			continue
		}

		l.handleChange(ctx, change)
		resume = change.Token
	}
}

func (l *Listener) handleChange(ctx context.Context, change *Change) {
	evt, err := l.transformer.Transform(change)
	if err != nil {
		// Malformed changes are skipped, not retried. The token still
		// advances so the stream never wedges on a poison record.
		l.logger.Warn("skipping untransformable change", logging.LogFields{
			"collection": change.Collection,
			"operation":  change.Operation,
			"error":      err.Error(),
		})
		l.mu.Lock()
		l.stats.SkippedChanges++
		l.mu.Unlock()
		l.advanceToken(ctx, change, "")
		return
	}

	l.dispatch(ctx, evt)

	l.mu.Lock()
	l.stats.EventsEmitted++
	l.stats.LastEventAt = time.Now().UTC()
	l.mu.Unlock()

	l.advanceToken(ctx, change, evt.Meta().EventID)
}

// dispatch delivers the event to every registered handler in order, then to
// the processor when one is configured. A failing handler never blocks its
// siblings.
func (l *Listener) dispatch(ctx context.Context, evt event.Event) {
	l.mu.Lock()
	handlers := make([]broker.EventHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, evt); err != nil {
			l.logger.Error("handler failed", err, logging.LogFields{
				"handler":  h.Name(),
				"event_id": evt.Meta().EventID,
			})
			h.OnError(ctx, evt, err)
			l.mu.Lock()
			l.stats.ErrorCount++
			l.mu.Unlock()
		}
	}

	if l.cfg.Processor != nil {
		if _, err := l.cfg.Processor.Process(ctx, evt); err != nil {
			// The processor already dead-lettered the event; record it.
			l.logger.Error("processor delivery failed", err, logging.LogFields{
				"event_id": evt.Meta().EventID,
			})
			l.mu.Lock()
			l.stats.ErrorCount++
			l.mu.Unlock()
		}
	}
}

func (l *Listener) advanceToken(ctx context.Context, change *Change, lastEventID string) {
	l.lastToken = &tokens.ResumeToken{
		StreamID:    l.cfg.StreamID,
		Token:       change.Token,
		Timestamp:   time.Now().UTC(),
		LastEventID: lastEventID,
	}
	l.unsaved++
	if l.unsaved >= l.cfg.CheckpointEvery {
		l.persistToken(ctx, false)
	}
}

func (l *Listener) persistToken(ctx context.Context, force bool) {
	if l.lastToken == nil || (l.unsaved == 0 && !force) {
		return
	}
	if err := l.cfg.Tokens.Save(ctx, l.lastToken); err != nil {
		l.logger.Error("failed to persist resume token", err, nil)
		return
	}
	l.unsaved = 0
}

func (l *Listener) loadResumePosition(ctx context.Context) string {
	tok, err := l.cfg.Tokens.Load(ctx, l.cfg.StreamID)
	if err != nil {
		l.logger.Error("failed to load resume token, starting from now", err, nil)
		return ""
	}
	if tok == nil {
		return ""
	}
	return tok.Token
}

// resetResumePosition discards the stored token after the source reported
// the position unrecoverable. The stream restarts from the current position,
// which is an explicit data-loss window.
func (l *Listener) resetResumePosition(ctx context.Context) string {
	l.logger.Warn("resume position lost, restarting from current position", logging.LogFields{
		"stream_id": l.cfg.StreamID,
	})
	if err := l.cfg.Tokens.Clear(ctx, l.cfg.StreamID); err != nil {
		l.logger.Error("failed to clear stale resume token", err, nil)
	}
	l.lastToken = nil
	l.unsaved = 0

	l.mu.Lock()
	l.stats.TokenResets++
	l.mu.Unlock()
	return ""
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStopping && s != StateIdle {
		return
	}
	l.state = s
}

// sleepCtx sleeps for d unless the context is cancelled first. It reports
// whether the full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
