package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodeworks/speedlayer/internal/event"
)

func TestChannelBrokerRoundTrip(t *testing.T) {
	b := NewChannelBroker(nil)
	defer b.Close()

	received := make(chan event.Event, 1)
	_, err := b.Subscribe(event.TopicData, &FuncHandler{
		HandlerName: "collector",
		HandleFunc: func(ctx context.Context, evt event.Event) error {
			received <- evt
			return nil
		},
	})
	require.NoError(t, err)

	sent := newDataEvent("doc-1")
	require.NoError(t, b.Publish(context.Background(), event.TopicData, sent))

	select {
	case got := <-received:
		assert.Equal(t, event.DataCreated, got.Type())
		assert.Equal(t, sent.Meta().EventID, got.Meta().EventID)
		data, ok := got.(*event.DataEvent)
		require.True(t, ok)
		assert.Equal(t, "doc-1", data.DocumentID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestChannelBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewChannelBroker(nil)
	defer b.Close()

	received := make(chan event.Event, 8)
	id, err := b.Subscribe(event.TopicData, &FuncHandler{
		HandlerName: "collector",
		HandleFunc: func(ctx context.Context, evt event.Event) error {
			received <- evt
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), event.TopicData, newDataEvent("doc-1")))
	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("first event was not delivered")
	}

	assert.True(t, b.Unsubscribe(event.TopicData, id))
	assert.False(t, b.Unsubscribe(event.TopicData, id))
}

func TestChannelBrokerClosedPublish(t *testing.T) {
	b := NewChannelBroker(nil)
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), event.TopicData, newDataEvent("doc-1"))
	assert.Error(t, err)
}
