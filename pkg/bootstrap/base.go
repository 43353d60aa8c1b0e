package bootstrap

import (
	"context"
	"fmt"

	"stepgate/internal/broker"
	"stepgate/internal/config"
	"stepgate/internal/logger"
)

// Base carries the broker plumbing shared by Kafka-driven services. Every
// consumer it creates is closed on Shutdown before the producer, since
// handlers publish through it.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer

	extraConsumers []namedConsumer
}

type namedConsumer struct {
	name     string
	consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker creates the producer and the main consumer from the service
// config.
func (b *Base) InitBroker(serviceName string) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	if serviceName != "" {
		consumer.SetServiceName(serviceName)
	}

	b.Producer = producer
	b.Consumer = consumer
	return nil
}

// NewConsumer creates an additional consumer with its own broker settings,
// for example a different consumer group.
func (b *Base) NewConsumer(name string, cfg config.BrokerConfig, serviceName string) (broker.Consumer, error) {
	consumer, err := broker.NewConsumer(cfg, b.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s consumer: %w", name, err)
	}
	if serviceName != "" {
		consumer.SetServiceName(serviceName)
	}
	b.extraConsumers = append(b.extraConsumers, namedConsumer{name: name, consumer: consumer})
	return consumer, nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}
	for _, c := range b.extraConsumers {
		if err := c.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s consumer close error: %w", c.name, err))
		}
	}

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application")

	errs := b.ShutdownBroker()
	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
