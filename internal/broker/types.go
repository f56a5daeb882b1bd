package broker

import (
	"context"
)

// Producer publishes a JSON-encoded payload to a topic. The key selects the
// partition, which is what carries the pipeline's ordering guarantees:
// message events are keyed by conversation id, status updates by message id.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
	Close() error
}

// Consumer delivers raw records to a handler. The record is committed only
// after the handler returns nil, so every side effect the handler performs
// happens before the offset is acknowledged.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, key string, value []byte) error
