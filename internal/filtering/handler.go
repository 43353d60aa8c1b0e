package filtering

import (
	"context"

	"stepgate/internal/broker"
	"stepgate/internal/config_handler"
	"stepgate/internal/logger"
	"stepgate/pkg/errors"
	"stepgate/pkg/models"
)

type Handler = config_handler.Handler

// NewHandler reloads the rule cache on step filter config events.
func NewHandler(service *Service, log logger.Logger) *Handler {
	return config_handler.NewHandler(
		models.EventTypeStepFilterUpdated,
		models.ServiceTypeFiltering,
		service,
		log,
	)
}

// NewMessageHandler evaluates each trigger event and publishes it with its
// step decisions to outputTopic.
func NewMessageHandler(service *Service, producer broker.Producer, outputTopic string, log logger.Logger) broker.HandlerFunc {
	return func(ctx context.Context, msg models.MessageEnvelope) error {
		decided, err := service.Process(ctx, msg)
		if errors.IsFilterError(err) {
			log.ErrorwCtx(ctx, "Step filter could not be evaluated, no decisions published",
				"error", err,
				"details", errors.ToErrorResponse(err)["details"],
			)
			return err
		}
		if err != nil {
			log.ErrorwCtx(ctx, "Filter error",
				"error", err,
			)
			return err
		}

		if err := producer.Publish(ctx, outputTopic, decided); err != nil {
			log.ErrorwCtx(ctx, "Failed to publish step decisions",
				"error", err,
				"output_topic", outputTopic,
			)
			return err
		}

		log.InfowCtx(ctx, "Step decisions published",
			"workflow_id", decided.WorkflowID,
			"decisions", len(decided.Metadata.StepDecisions),
		)
		return nil
	}
}
