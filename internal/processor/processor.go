package processor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lodeworks/speedlayer/internal/broker"
	errspkg "github.com/lodeworks/speedlayer/internal/errors"
	"github.com/lodeworks/speedlayer/internal/event"
	"github.com/lodeworks/speedlayer/internal/logging"
)

// Config tunes the processor. Zero values fall back to sensible defaults.
type Config struct {
	// Backoff shapes the retry delay between redelivery attempts.
	Backoff BackoffConfig
	// DeadLetters receives envelopes whose retry budget is exhausted.
	// Defaults to an in-memory store.
	DeadLetters DeadLetterStore
	// MetricsRegisterer receives the Prometheus collectors. Nil uses the
	// default registerer; metrics can be disabled entirely with
	// DisableMetrics.
	MetricsRegisterer prometheus.Registerer
	DisableMetrics    bool
	// Jitter randomises retry delays. Disabled by default so redelivery
	// timing stays deterministic unless the deployment opts in.
	Jitter bool
}

// Stats is a point-in-time snapshot of the processor counters, exposed for
// external health checks.
type Stats struct {
	Processed    uint64    `json:"processed"`
	Failed       uint64    `json:"failed"`
	Retried      uint64    `json:"retried"`
	DeadLettered uint64    `json:"dead_lettered"`
	LastActivity time.Time `json:"last_activity"`
}

// Processor is the orchestration layer between event producers and the
// broker. Every event gets an envelope, a topic from the shared table, and
// an at-least-once delivery loop with exponential backoff and dead-letter
// parking.
type Processor struct {
	broker  broker.Broker
	logger  logging.ServiceLogger
	cfg     Config
	dlq     DeadLetterStore
	metrics *Metrics
	tracer  trace.Tracer

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	stats  Stats
	closed bool
}

// New wires a processor to its broker. The broker is required; everything
// else has defaults.
func New(b broker.Broker, logger logging.ServiceLogger, cfg Config) (*Processor, error) {
	if b == nil {
		return nil, errspkg.ErrBrokerRequired
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	dlq := cfg.DeadLetters
	if dlq == nil {
		dlq = NewMemoryDeadLetterStore()
	}
	var metrics *Metrics
	if !cfg.DisableMetrics {
		metrics = NewMetrics(cfg.MetricsRegisterer)
	}
	return &Processor{
		broker:  b,
		logger:  logger,
		cfg:     cfg,
		dlq:     dlq,
		metrics: metrics,
		tracer:  otel.Tracer("speedlayer/processor"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// RegisterHandler subscribes a consumer to a topic through the broker.
func (p *Processor) RegisterHandler(topic string, h broker.EventHandler) (string, error) {
	return p.broker.Subscribe(topic, h)
}

// RegisterHandlerForType subscribes a consumer to the topic that carries the
// given event type, resolved through the shared topic table.
func (p *Processor) RegisterHandlerForType(t event.EventType, h broker.EventHandler) (string, error) {
	return p.broker.Subscribe(event.TopicForType(t), h)
}

// UnregisterHandler removes a subscription created by RegisterHandler.
func (p *Processor) UnregisterHandler(topic, id string) bool {
	return p.broker.Unsubscribe(topic, id)
}

// Process runs one event through the delivery state machine and returns its
// envelope. The returned error is non-nil only when the envelope ended in
// DEAD_LETTER or the context was cancelled mid-retry; individual failed
// attempts are recorded in the envelope's ErrorHistory.
func (p *Processor) Process(ctx context.Context, evt event.Event) (*Envelope, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errspkg.ErrProcessorClosed
	}
	p.mu.Unlock()

	env := newEnvelope(evt)

	ctx, span := p.tracer.Start(ctx, "processor.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", string(evt.Type())),
		attribute.String("event.id", evt.Meta().EventID),
		attribute.String("event.topic", env.Topic),
	)

	for {
		env.Status = StatusProcessing

		err := p.broker.Publish(ctx, env.Topic, evt)
		if err == nil {
			env.Status = StatusCompleted
			env.ProcessedAt = time.Now().UTC()
			p.recordOutcome(func(s *Stats) { s.Processed++ })
			p.metrics.recordProcessed(env.Topic)
			return env, nil
		}

		env.recordFailure(err)
		p.recordOutcome(func(s *Stats) { s.Failed++ })
		p.metrics.recordFailed(env.Topic)

		meta := evt.Meta()
		if meta.RetryCount >= meta.MaxRetries {
			return env, p.deadLetter(ctx, env, err)
		}

		// RetryCount is the event's only mutable field; it advances
		// monotonically with each redelivery.
		meta.RetryCount++
		env.RetryCount = meta.RetryCount
		env.Status = StatusRetrying
		p.recordOutcome(func(s *Stats) { s.Retried++ })
		p.metrics.recordRetried(env.Topic)

		delay := p.retryDelay(meta.RetryCount)
		p.logger.Warn("delivery failed, retrying", logging.LogFields{
			"topic":       env.Topic,
			"event_id":    meta.EventID,
			"retry_count": meta.RetryCount,
			"max_retries": meta.MaxRetries,
			"delay":       delay.String(),
		})

		select {
		case <-ctx.Done():
			return env, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (p *Processor) retryDelay(attempt int) time.Duration {
	if !p.cfg.Jitter {
		return nextDelay(attempt, p.cfg.Backoff, nil)
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return nextDelay(attempt, p.cfg.Backoff, p.rng)
}

// deadLetter parks the envelope in the dead-letter store and republishes the
// event on the paired DLQ topic so external consumers can observe it. The
// DLQ publish is best effort: the store is the source of truth.
func (p *Processor) deadLetter(ctx context.Context, env *Envelope, cause error) error {
	env.Status = StatusDeadLetter
	env.ProcessedAt = time.Now().UTC()

	if err := p.dlq.Add(ctx, env); err != nil {
		p.logger.Error("dead letter store rejected envelope", err, logging.LogFields{
			"topic":    env.Topic,
			"event_id": env.Event.Meta().EventID,
		})
	}
	if err := p.broker.Publish(ctx, event.DLQTopic(env.Topic), env.Event); err != nil {
		p.logger.Error("dead letter publish failed", err, logging.LogFields{
			"topic":    event.DLQTopic(env.Topic),
			"event_id": env.Event.Meta().EventID,
		})
	}

	p.recordOutcome(func(s *Stats) { s.DeadLettered++ })
	p.metrics.recordDeadLettered(env.Topic)
	p.logger.Error("envelope dead lettered", cause, logging.LogFields{
		"topic":       env.Topic,
		"event_id":    env.Event.Meta().EventID,
		"retry_count": env.RetryCount,
	})
	return fmt.Errorf("event %s dead lettered after %d retries: %w",
		env.Event.Meta().EventID, env.RetryCount, cause)
}

func (p *Processor) recordOutcome(update func(*Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update(&p.stats)
	p.stats.LastActivity = time.Now().UTC()
}

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// DeadLetters lists the envelopes currently parked in the dead-letter store.
func (p *Processor) DeadLetters(ctx context.Context) ([]*Envelope, error) {
	return p.dlq.List(ctx)
}

// Close stops accepting events. The broker is owned by the caller and is not
// closed here.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
