package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/inventory"
)

type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, wh inventory.PaymentWebhook) (inventory.PaymentResult, error)
}

// Checkpoints records the last applied sequence per consumer and partition.
type Checkpoints interface {
	Last(ctx context.Context, consumer, partitionKey string) (int64, bool, error)
	Advance(ctx context.Context, consumer, partitionKey string, seq int64) error
}

// PaymentProcessedHandler applies payment results delivered over the bus
// through the same idempotent path as the HTTP webhook. Redeliveries of a
// processed webhook are acknowledged.
//
// When checkpoints is non-nil, sequenced envelopes at or below the partition
// checkpoint are acknowledged without being applied.
func PaymentProcessedHandler(svc PaymentProcessor, checkpoints Checkpoints, logger zerolog.Logger) HandlerFunc {
	consumer := holdServiceQueueName(PaymentProcessedRoutingKey)
	return func(ctx context.Context, body []byte) error {
		env, err := parseEnvelope(body)
		if err != nil {
			return err
		}
		if err := env.Validate(EventTypePaymentProcessed, 1); err != nil {
			return fmt.Errorf("invalid envelope: %w", err)
		}

		tracked := checkpoints != nil && env.Sequence > 0
		if tracked {
			last, ok, err := checkpoints.Last(ctx, consumer, env.PartitionKey)
			if err != nil {
				return err
			}
			if ok && env.Sequence <= last {
				logger.Debug().
					Str("event_id", env.EventID).
					Str("partition_key", env.PartitionKey).
					Int64("sequence", env.Sequence).
					Int64("checkpoint", last).
					Msg("stale payment event skipped")
				return nil
			}
		}

		var payload PaymentProcessedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}

		wh := inventory.PaymentWebhook{
			WebhookID: payload.WebhookID,
			OrderID:   payload.OrderID,
			Status:    inventory.PaymentStatus(payload.Status),
		}
		if len(payload.Details) > 0 {
			raw, err := json.Marshal(payload.Details)
			if err != nil {
				return fmt.Errorf("marshal details: %w", err)
			}
			wh.Payload = raw
		}

		ctx = WithMeta(ctx, EventMeta{CorrelationID: env.CorrelationID, CausationID: env.EventID})
		res, err := svc.ProcessPayment(ctx, wh)
		if err != nil {
			return fmt.Errorf("process payment %s: %w", payload.WebhookID, err)
		}
		if tracked {
			if err := checkpoints.Advance(ctx, consumer, env.PartitionKey, env.Sequence); err != nil {
				// The payment is applied; a redelivery is absorbed by the webhook id.
				logger.Warn().Err(err).Str("event_id", env.EventID).Msg("checkpoint not advanced")
			}
		}

		logger.Info().
			Str("webhook_id", wh.WebhookID).
			Str("order_id", wh.OrderID).
			Str("order_status", string(res.Order.Status)).
			Bool("duplicate", res.Duplicate).
			Msg("payment event applied")
		return nil
	}
}
