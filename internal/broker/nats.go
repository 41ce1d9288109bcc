package broker

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	errspkg "github.com/lodeworks/speedlayer/internal/errors"
	"github.com/lodeworks/speedlayer/internal/event"
	"github.com/lodeworks/speedlayer/internal/ids"
	"github.com/lodeworks/speedlayer/internal/logging"
)

// NATSBroker carries events over core NATS subjects. Topics map directly to
// subjects; delivery is at-most-once per subscriber at the transport level,
// with the processor's retry loop providing the at-least-once envelope.
type NATSBroker struct {
	conn   *nats.Conn
	logger logging.ServiceLogger

	mu     sync.Mutex
	subs   map[string]map[string]*nats.Subscription
	closed bool
}

// NewNATSBroker connects to the given NATS URL.
func NewNATSBroker(url string, logger logging.ServiceLogger) (*NATSBroker, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	conn, err := nats.Connect(url, nats.Name("speedlayer"))
	if err != nil {
		return nil, err
	}
	return &NATSBroker{
		conn:   conn,
		logger: logger,
		subs:   make(map[string]map[string]*nats.Subscription),
	}, nil
}

func (b *NATSBroker) Publish(ctx context.Context, topic string, evt event.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errspkg.ErrBrokerClosed
	}
	b.mu.Unlock()

	payload, err := event.Marshal(evt)
	if err != nil {
		return err
	}
	return b.conn.Publish(topic, payload)
}

func (b *NATSBroker) Subscribe(topic string, h EventHandler) (string, error) {
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

	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		evt, err := event.Unmarshal(msg.Data)
		if err != nil {
			b.logger.Error("dropping undecodable message", err, logging.LogFields{
				"topic": topic,
			})
			return
		}
		ctx := context.Background()
		if err := h.Handle(ctx, evt); err != nil {
			b.logger.Error("handler failed", err, logging.LogFields{
				"topic":    topic,
				"handler":  h.Name(),
				"event_id": evt.Meta().EventID,
			})
			h.OnError(ctx, evt, err)
		}
	})
	if err != nil {
		return "", err
	}

	id := ids.CreateULID()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*nats.Subscription)
	}
	b.subs[topic][id] = sub
	return id, nil
}

func (b *NATSBroker) Unsubscribe(topic, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[topic][id]
	if !ok {
		return false
	}
	if err := sub.Unsubscribe(); err != nil {
		b.logger.Error("unsubscribe failed", err, logging.LogFields{"topic": topic})
	}
	delete(b.subs[topic], id)
	return true
}

// Close drains the connection so in-flight callbacks finish before the
// process lets go of the transport.
func (b *NATSBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = make(map[string]map[string]*nats.Subscription)
	b.mu.Unlock()

	return b.conn.Drain()
}
