package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	errspkg "github.com/lodeworks/speedlayer/internal/errors"
	"github.com/lodeworks/speedlayer/internal/event"
	"github.com/lodeworks/speedlayer/internal/ids"
	"github.com/lodeworks/speedlayer/internal/logging"
)

// Metadata keys stamped on outgoing watermill messages.
const (
	metadataKeyEventType     = "event_type"
	metadataKeyCorrelationID = "correlation_id"
)

// WatermillBroker adapts any watermill publisher/subscriber pair to the
// Broker interface. It is the plug-in point for distributed-log backends:
// the event processor and listener only ever see the Broker contract, so a
// Kafka- or channel-backed instance is a drop-in replacement for the
// in-memory broker.
type WatermillBroker struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     logging.ServiceLogger

	mu     sync.Mutex
	subs   map[string]map[string]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewWatermillBroker wraps an existing publisher/subscriber pair.
func NewWatermillBroker(pub message.Publisher, sub message.Subscriber, logger logging.ServiceLogger) *WatermillBroker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &WatermillBroker{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
		subs:       make(map[string]map[string]context.CancelFunc),
	}
}

// NewChannelBroker builds a WatermillBroker over in-process Go channels.
// Useful for tests and single-binary deployments that still want the
// watermill delivery semantics.
func NewChannelBroker(logger logging.ServiceLogger) *WatermillBroker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, logging.NewWatermillAdapter(logger))
	return NewWatermillBroker(pubSub, pubSub, logger)
}

// Publish marshals the event into the wire format and hands it to the
// underlying transport.
func (b *WatermillBroker) Publish(ctx context.Context, topic string, evt event.Event) error {
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

	msg := message.NewMessage(evt.Meta().EventID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(metadataKeyEventType, string(evt.Type()))
	if evt.Meta().CorrelationID != "" {
		msg.Metadata.Set(metadataKeyCorrelationID, evt.Meta().CorrelationID)
	}
	return b.publisher.Publish(topic, msg)
}

// Subscribe opens a transport subscription and pumps decoded events into the
// handler from a dedicated goroutine. Messages that fail to decode are acked
// and skipped so a poison payload cannot wedge the subscription.
func (b *WatermillBroker) Subscribe(topic string, h EventHandler) (string, error) {
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

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return "", err
	}

	id := ids.CreateULID()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]context.CancelFunc)
	}
	b.subs[topic][id] = cancel

	b.wg.Add(1)
	go b.consume(topic, h, ch)

	return id, nil
}

func (b *WatermillBroker) consume(topic string, h EventHandler, ch <-chan *message.Message) {
	defer b.wg.Done()

	for msg := range ch {
		evt, err := event.Unmarshal(msg.Payload)
		if err != nil {
			b.logger.Error("dropping undecodable message", err, logging.LogFields{
				"topic":        topic,
				"message_uuid": msg.UUID,
			})
			msg.Ack()
			continue
		}

		if err := h.Handle(msg.Context(), evt); err != nil {
			b.logger.Error("handler failed", err, logging.LogFields{
				"topic":    topic,
				"handler":  h.Name(),
				"event_id": evt.Meta().EventID,
			})
			h.OnError(msg.Context(), evt, err)
		}
		// Redelivery is owned by the processor's envelope retry loop, not
		// the transport, so the message is always acked here.
		msg.Ack()
	}
}

// Unsubscribe cancels the subscription's consume loop.
func (b *WatermillBroker) Unsubscribe(topic, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cancel, ok := b.subs[topic][id]
	if !ok {
		return false
	}
	cancel()
	delete(b.subs[topic], id)
	return true
}

// Close cancels all subscriptions, waits for consume loops to drain, and
// closes the underlying transport.
func (b *WatermillBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, topicSubs := range b.subs {
		for _, cancel := range topicSubs {
			cancel()
		}
	}
	b.subs = make(map[string]map[string]context.CancelFunc)
	b.mu.Unlock()

	var errs []error
	if err := b.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()
	return errors.Join(errs...)
}
