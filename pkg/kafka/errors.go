package kafka

import "errors"

var (
	ErrNoBrokers       = errors.New("no kafka brokers configured")
	ErrProducerInit    = errors.New("failed to create kafka producer")
	ErrPublishFailed   = errors.New("failed to publish kafka message")
	ErrEncodingMessage = errors.New("failed to encode kafka message")
)
