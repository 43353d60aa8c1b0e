package broker

import (
	"fmt"

	"stepgate/internal/config"
	"stepgate/internal/logger"
)

// TypeKafka is the only transport trigger events and decisions travel on.
const TypeKafka = "kafka"

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	return NewKafkaProducer(cfg.Kafka, log), nil
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Kafka.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer group is not configured")
	}
	return NewKafkaConsumer(cfg.Kafka, log), nil
}

func checkConfig(cfg config.BrokerConfig) error {
	if cfg.Type != TypeKafka {
		return fmt.Errorf("unsupported broker type %q", cfg.Type)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are not configured")
	}
	return nil
}
