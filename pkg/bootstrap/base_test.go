package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgate/internal/broker"
	"stepgate/internal/config"
	"stepgate/internal/logger"
	"stepgate/pkg/models"
)

type closeRecorder struct {
	order *[]string
	name  string
	err   error
}

func (r closeRecorder) Close() error {
	*r.order = append(*r.order, r.name)
	return r.err
}

type fakeConsumer struct{ closeRecorder }

func (fakeConsumer) Consume(ctx context.Context, topic string, handler broker.HandlerFunc) error {
	return nil
}

func (fakeConsumer) SetServiceName(string) {}

type fakeProducer struct{ closeRecorder }

func (fakeProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	return nil
}

func TestShutdownClosesConsumersBeforeProducer(t *testing.T) {
	var order []string
	b := NewBase(&config.Config{}, logger.NopLogger())
	b.Consumer = fakeConsumer{closeRecorder{order: &order, name: "input"}}
	b.Producer = fakeProducer{closeRecorder{order: &order, name: "producer"}}
	b.extraConsumers = []namedConsumer{{
		name:     "config",
		consumer: fakeConsumer{closeRecorder{order: &order, name: "config", err: errors.New("already closed")}},
	}}

	var extraCalled bool
	err := b.Shutdown(context.Background(), func(ctx context.Context) []error {
		extraCalled = true
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config consumer close error")
	assert.Equal(t, []string{"input", "config", "producer"}, order)
	assert.True(t, extraCalled)
}

func TestNewConsumerRejectsUnknownBroker(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())

	_, err := b.NewConsumer("config", config.BrokerConfig{Type: "nats"}, "filtering-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported broker type")
	assert.Empty(t, b.extraConsumers)
}
