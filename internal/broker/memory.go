package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	errspkg "github.com/lodeworks/speedlayer/internal/errors"
	"github.com/lodeworks/speedlayer/internal/event"
	"github.com/lodeworks/speedlayer/internal/ids"
	"github.com/lodeworks/speedlayer/internal/logging"
)

type subscription struct {
	id      string
	handler EventHandler
}

// InMemoryBroker fans events out to subscribers within one process. Handlers
// for the same topic are invoked synchronously in subscription order, so
// per-topic delivery order is deterministic. There is no durability across a
// crash: in-flight messages are recoverable only through CDC replay from the
// last persisted resume token.
type InMemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	closed bool
	logger logging.ServiceLogger
}

// NewInMemoryBroker builds an empty broker. A nil logger falls back to a
// no-op logger.
func NewInMemoryBroker(logger logging.ServiceLogger) *InMemoryBroker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &InMemoryBroker{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Publish delivers the event to every handler subscribed to the topic, in
// subscription order. A failing handler does not block its siblings: its
// OnError is invoked and delivery continues. All handler failures are joined
// into the returned error so the caller can track the delivery outcome.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, evt event.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errspkg.ErrBrokerClosed
	}
	handlers := make([]subscription, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.RUnlock()

	var errs []error
	for _, sub := range handlers {
		if err := sub.handler.Handle(ctx, evt); err != nil {
			b.logger.Error("handler failed", err, logging.LogFields{
				"topic":    topic,
				"handler":  sub.handler.Name(),
				"event_id": evt.Meta().EventID,
			})
			sub.handler.OnError(ctx, evt, err)
			errs = append(errs, fmt.Errorf("handler %s: %w", sub.handler.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe appends the handler to the topic's delivery list.
func (b *InMemoryBroker) Subscribe(topic string, h EventHandler) (string, error) {
	if topic == "" {
		return "", errspkg.ErrTopicRequired
	}
	if h == nil {
		return "", errspkg.ErrHandlerRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", errspkg.ErrBrokerClosed
	}

	id := ids.CreateULID()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	return id, nil
}

// Unsubscribe removes the subscription with the given id from the topic.
func (b *InMemoryBroker) Unsubscribe(topic, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[topic]
	for i, sub := range list {
		if sub.id == id {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Close drops all subscriptions and rejects further publishes.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]subscription)
	return nil
}

// SubscriberCount reports how many handlers are registered for a topic.
func (b *InMemoryBroker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
