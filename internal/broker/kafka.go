package broker

import (
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"

	"github.com/lodeworks/speedlayer/internal/logging"
)

// NewKafkaBroker builds a WatermillBroker backed by Kafka. This is the
// distributed-log deployment of the broker contract: topics map one-to-one
// onto Kafka topics and the consumer group provides cross-process delivery.
func NewKafkaBroker(brokers []string, consumerGroup string, logger logging.ServiceLogger) (*WatermillBroker, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	wmLogger := logging.NewWatermillAdapter(logger)

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		wmLogger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: consumerGroup,
		},
		wmLogger,
	)
	if err != nil {
		return nil, err
	}

	return NewWatermillBroker(publisher, subscriber, logger), nil
}
