package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/inventory"
)

// Sequencer hands out blocks of per-partition sequence numbers for envelopes.
type Sequencer interface {
	Reserve(ctx context.Context, partitionKey string, n int) (first int64, err error)
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	ch                 amqpChannel
	seq                Sequencer
	producerIdentifier string
	now                func() time.Time
	log                zerolog.Logger
}

var _ inventory.EventPublisher = (*Publisher)(nil)

type PublisherOptions struct {
	Producer string
	Logger   zerolog.Logger
}

func NewPublisher(conn *amqp.Connection, seq Sequencer, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}

	return newPublisher(ch, seq, opts), nil
}

func newPublisher(ch amqpChannel, seq Sequencer, opts PublisherOptions) *Publisher {
	producer := opts.Producer
	if producer == "" {
		producer = holdServiceName
	}
	return &Publisher{
		ch:                 ch,
		seq:                seq,
		producerIdentifier: producer,
		now:                func() time.Time { return time.Now().UTC() },
		log:                opts.Logger,
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) HoldCreated(ctx context.Context, h inventory.Hold, available int) error {
	now := p.now()
	payload := HoldCreatedPayload{
		HoldID:         h.ID,
		ProductID:      h.ProductID,
		Quantity:       h.Quantity,
		AvailableStock: available,
		ExpiresAt:      h.ExpiresAt,
		Timestamp:      now,
	}
	return p.publish(ctx, HoldCreatedRoutingKey, EventTypeHoldCreated, holdCreatedSchema, productPartition(h.ProductID), payload, now)
}

// HoldsReleased publishes one event per hold. Sequences are reserved once per
// product partition, in the order the partitions first appear.
func (p *Publisher) HoldsReleased(ctx context.Context, holds []inventory.Hold, reason string) error {
	now := p.now()
	var (
		partitions  []string
		byPartition = make(map[string][]inventory.Hold)
	)
	for _, h := range holds {
		key := productPartition(h.ProductID)
		if _, ok := byPartition[key]; !ok {
			partitions = append(partitions, key)
		}
		byPartition[key] = append(byPartition[key], h)
	}

	for _, key := range partitions {
		group := byPartition[key]
		first, err := p.seq.Reserve(ctx, key, len(group))
		if err != nil {
			return fmt.Errorf("reserve sequence: %w", err)
		}
		for i, h := range group {
			payload := HoldReleasedPayload{
				HoldID:    h.ID,
				ProductID: h.ProductID,
				Quantity:  h.Quantity,
				Reason:    reason,
				Timestamp: now,
			}
			if err := p.send(ctx, HoldReleasedRoutingKey, EventTypeHoldReleased, holdReleasedSchema, key, first+int64(i), payload, now); err != nil {
				return fmt.Errorf("hold %s: %w", h.ID, err)
			}
		}
	}
	return nil
}

func (p *Publisher) StockDepleted(ctx context.Context, productID int64) error {
	now := p.now()
	payload := StockDepletedPayload{ProductID: productID, Timestamp: now}
	return p.publish(ctx, StockDepletedRoutingKey, EventTypeStockDepleted, stockDepletedSchema, productPartition(productID), payload, now)
}

func (p *Publisher) OrderCreated(ctx context.Context, o inventory.Order) error {
	now := p.now()
	payload := OrderCreatedPayload{
		OrderID:   o.ID,
		HoldID:    o.HoldID,
		ProductID: o.ProductID,
		Quantity:  o.Quantity,
		Status:    string(o.Status),
		Timestamp: now,
	}
	return p.publish(ctx, OrderCreatedRoutingKey, EventTypeOrderCreated, orderCreatedSchema, o.ID, payload, now)
}

func (p *Publisher) OrderStatusChanged(ctx context.Context, o inventory.Order) error {
	now := p.now()
	payload := OrderStatusPayload{
		OrderID:   o.ID,
		ProductID: o.ProductID,
		Quantity:  o.Quantity,
		Status:    string(o.Status),
		Timestamp: now,
	}
	return p.publish(ctx, OrderStatusRoutingKey, EventTypeOrderStatus, orderStatusSchema, o.ID, payload, now)
}

func (p *Publisher) publish(ctx context.Context, routingKey, name, schema, partitionKey string, payload any, occurredAt time.Time) error {
	seq, err := p.seq.Reserve(ctx, partitionKey, 1)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}
	return p.send(ctx, routingKey, name, schema, partitionKey, seq, payload, occurredAt)
}

func (p *Publisher) send(ctx context.Context, routingKey, name, schema, partitionKey string, seq int64, payload any, occurredAt time.Time) error {
	env, err := newEnvelope(metaFromContext(ctx), name, schema, partitionKey, seq, p.producerIdentifier, payload, occurredAt)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", name, err)
	}

	if err := p.publishJSON(ctx, routingKey, body); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	p.log.Debug().
		Str("event", name).
		Str("partition_key", partitionKey).
		Int64("sequence", seq).
		Msg("event published")
	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func newEnvelope(meta EventMeta, name, schema, partitionKey string, seq int64, producer string, payload any, occurredAt time.Time) (EventEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return EventEnvelope{
		EventName:     name,
		EventVersion:  1,
		EventID:       uuid.NewString(),
		CorrelationID: correlationID,
		CausationID:   meta.CausationID,
		Producer:      producer,
		PartitionKey:  partitionKey,
		Sequence:      seq,
		OccurredAt:    occurredAt,
		Schema:        schema,
		Payload:       raw,
	}, nil
}

func productPartition(productID int64) string {
	return "product-" + strconv.FormatInt(productID, 10)
}

type metaKey struct{}

// WithMeta attaches correlation ids to ctx so events published while handling
// a message keep the chain intact.
func WithMeta(ctx context.Context, meta EventMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

func metaFromContext(ctx context.Context) EventMeta {
	meta, _ := ctx.Value(metaKey{}).(EventMeta)
	return meta
}
