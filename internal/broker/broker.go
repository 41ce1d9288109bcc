// Package broker defines the publish/subscribe contract the speed layer
// routes events through, together with an in-process implementation and
// adapters for external transports. All implementations share the Broker
// interface so swapping the in-memory fan-out for a distributed log requires
// no caller changes; routing always goes through the event package's topic
// table.
package broker

import (
	"context"

	"github.com/lodeworks/speedlayer/internal/event"
)

// EventHandler is the consumer contract exposed to all collaborators
// (validators, persistence, alerting, batch reconciliation). Any component
// implementing it can be registered without modifying the core.
type EventHandler interface {
	// Name identifies the handler in logs and stats.
	Name() string
	// Handle processes one event. A nil return acknowledges delivery.
	Handle(ctx context.Context, evt event.Event) error
	// OnError is invoked when Handle fails; it must not panic and is given
	// the same event so the handler can record or compensate.
	OnError(ctx context.Context, evt event.Event, err error)
}

// Broker is the message fan-out abstraction. Delivery is at-least-once;
// consumers are expected to be idempotent.
type Broker interface {
	// Publish delivers the event to every subscriber of the topic.
	Publish(ctx context.Context, topic string, evt event.Event) error
	// Subscribe registers a handler for a topic and returns a subscription id.
	Subscribe(topic string, h EventHandler) (string, error)
	// Unsubscribe removes a subscription; it reports whether one was removed.
	Unsubscribe(topic, id string) bool
	// Close releases transport resources. Publishing after Close fails.
	Close() error
}

// FuncHandler adapts plain functions to the EventHandler interface.
type FuncHandler struct {
	HandlerName string
	HandleFunc  func(ctx context.Context, evt event.Event) error
	OnErrorFunc func(ctx context.Context, evt event.Event, err error)
}

func (f *FuncHandler) Name() string {
	if f.HandlerName == "" {
		return "func_handler"
	}
	return f.HandlerName
}

func (f *FuncHandler) Handle(ctx context.Context, evt event.Event) error {
	if f.HandleFunc == nil {
		return nil
	}
	return f.HandleFunc(ctx, evt)
}

func (f *FuncHandler) OnError(ctx context.Context, evt event.Event, err error) {
	if f.OnErrorFunc != nil {
		f.OnErrorFunc(ctx, evt, err)
	}
}
