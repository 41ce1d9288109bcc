package processor

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lodeworks/speedlayer/internal/event"
	"github.com/lodeworks/speedlayer/internal/logging"
)

// LoggingHandler logs every event it receives. Useful as a tap on any topic
// during development or as the consumer of a DLQ topic in production.
type LoggingHandler struct {
	logger logging.ServiceLogger
}

func NewLoggingHandler(logger logging.ServiceLogger) *LoggingHandler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LoggingHandler{logger: logger}
}

func (h *LoggingHandler) Name() string { return "logging" }

func (h *LoggingHandler) Handle(ctx context.Context, evt event.Event) error {
	meta := evt.Meta()
	h.logger.Info("event received", logging.LogFields{
		"event_type": string(evt.Type()),
		"event_id":   meta.EventID,
		"source":     string(meta.Source),
		"priority":   evt.EventPriority().String(),
	})
	return nil
}

func (h *LoggingHandler) OnError(ctx context.Context, evt event.Event, err error) {}

// MetricsHandler counts consumed events by type and source.
type MetricsHandler struct {
	consumed *prometheus.CounterVec
}

func NewMetricsHandler(registerer prometheus.Registerer) *MetricsHandler {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	consumed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "speedlayer",
			Subsystem: "handlers",
			Name:      "events_consumed_total",
			Help:      "Events consumed by the metrics handler",
		},
		[]string{"event_type", "source"},
	)
	if err := registerer.Register(consumed); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			consumed = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			panic(err)
		}
	}
	return &MetricsHandler{consumed: consumed}
}

func (h *MetricsHandler) Name() string { return "metrics" }

func (h *MetricsHandler) Handle(ctx context.Context, evt event.Event) error {
	h.consumed.WithLabelValues(string(evt.Type()), string(evt.Meta().Source)).Inc()
	return nil
}

func (h *MetricsHandler) OnError(ctx context.Context, evt event.Event, err error) {}

// EventStore persists events for later replay or audit. Implementations are
// expected to be idempotent on event id since delivery is at-least-once.
type EventStore interface {
	Store(ctx context.Context, evt event.Event) error
}

// PersistenceHandler writes every event to an EventStore. Store failures are
// returned so the delivery loop can retry them.
type PersistenceHandler struct {
	store  EventStore
	logger logging.ServiceLogger
}

func NewPersistenceHandler(store EventStore, logger logging.ServiceLogger) *PersistenceHandler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &PersistenceHandler{store: store, logger: logger}
}

func (h *PersistenceHandler) Name() string { return "persistence" }

func (h *PersistenceHandler) Handle(ctx context.Context, evt event.Event) error {
	if err := h.store.Store(ctx, evt); err != nil {
		return fmt.Errorf("store event %s: %w", evt.Meta().EventID, err)
	}
	return nil
}

func (h *PersistenceHandler) OnError(ctx context.Context, evt event.Event, err error) {
	h.logger.Error("event persistence failed", err, logging.LogFields{
		"event_id":   evt.Meta().EventID,
		"event_type": string(evt.Type()),
	})
}

// WebhookHandler forwards events to an HTTP endpoint as wire-format JSON.
type WebhookHandler struct {
	url    string
	client *http.Client
	logger logging.ServiceLogger
}

func NewWebhookHandler(url string, client *http.Client, logger logging.ServiceLogger) *WebhookHandler {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &WebhookHandler{url: url, client: client, logger: logger}
}

func (h *WebhookHandler) Name() string { return "webhook" }

func (h *WebhookHandler) Handle(ctx context.Context, evt event.Event) error {
	payload, err := event.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.Meta().EventID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned status %d", h.url, resp.StatusCode)
	}
	return nil
}

func (h *WebhookHandler) OnError(ctx context.Context, evt event.Event, err error) {
	h.logger.Warn("webhook delivery failed", logging.LogFields{
		"event_id": evt.Meta().EventID,
		"url":      h.url,
		"error":    err.Error(),
	})
}
