package errors

import sterrors "errors"

var (
	ErrBrokerRequired     = sterrors.New("speedlayer: broker is required")
	ErrHandlerRequired    = sterrors.New("speedlayer: handler is required")
	ErrTopicRequired      = sterrors.New("speedlayer: topic is required")
	ErrStreamIDRequired   = sterrors.New("speedlayer: stream id is required")
	ErrSourceRequired     = sterrors.New("speedlayer: change source is required")
	ErrTokenStoreRequired = sterrors.New("speedlayer: resume token store is required")
	ErrProcessorClosed    = sterrors.New("speedlayer: processor is closed")
	ErrBrokerClosed       = sterrors.New("speedlayer: broker is closed")
	ErrListenerRunning    = sterrors.New("speedlayer: listener is already running")
	ErrUnknownEventType   = sterrors.New("speedlayer: unknown event type")
)
