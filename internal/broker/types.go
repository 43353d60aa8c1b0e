package broker

import (
	"context"

	"stepgate/pkg/models"
)

// Producer publishes trigger envelopes, with or without step decisions.
type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

// Consumer delivers envelopes from a topic to a HandlerFunc until ctx is
// done. Envelopes whose handler keeps failing go to the dead letter topic
// when one is configured; fatal errors skip the retries.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error
