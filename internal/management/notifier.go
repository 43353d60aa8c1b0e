package management

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stepgate/internal/broker"
	"stepgate/pkg/models"
)

const eventSource = "management-service"

// ConfigEventProducer announces step filter changes on the config topic so
// filtering instances reload their rule cache.
type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
	now      func() time.Time
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

func (p *ConfigEventProducer) PublishStepFilterEvent(ctx context.Context, action, ruleID, workflowID, changedBy string) error {
	if p == nil {
		return nil
	}
	event := models.ConfigUpdateEvent{
		EventType:   models.EventTypeStepFilterUpdated,
		ServiceType: models.ServiceTypeFiltering,
		RuleID:      ruleID,
		WorkflowID:  workflowID,
		Action:      action,
		Timestamp:   p.now().UTC(),
		ChangedBy:   changedBy,
	}
	return p.publishEvent(ctx, event)
}

func (p *ConfigEventProducer) publishEvent(ctx context.Context, event models.ConfigUpdateEvent) error {
	if p.producer == nil || p.topic == "" {
		return nil
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal config event: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(eventJSON, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal event data: %w", err)
	}

	envelope := models.MessageEnvelope{
		ID:         uuid.New().String(),
		Source:     eventSource,
		WorkflowID: event.WorkflowID,
		Timestamp:  event.Timestamp,
		Payload:    payload,
	}

	return p.producer.Publish(ctx, p.topic, envelope)
}
