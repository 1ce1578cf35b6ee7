package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// HandlerFunc processes one message body. Returning an error NACKs the
// message without requeue, which dead-letters it.
type HandlerFunc func(ctx context.Context, body []byte) error

type Consumer struct {
	ch      *amqp.Channel
	queue   string
	tag     string
	handler HandlerFunc
	log     zerolog.Logger
}

// NewConsumer declares the queue for routingKey and returns a consumer that
// starts delivering once Run is called.
func NewConsumer(conn *amqp.Connection, routingKey string, handler HandlerFunc, log zerolog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	queue := holdServiceQueueName(routingKey)
	if err := declareConsumerQueue(ch, queue, routingKey); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{
		ch:      ch,
		queue:   queue,
		tag:     holdServiceName,
		handler: handler,
		log:     log.With().Str("queue", queue).Logger(),
	}, nil
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() { _ = c.ch.Close() }()

	msgs, err := c.ch.Consume(
		c.queue,
		c.tag,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info().Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("stopping consumer")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("messages channel closed")
			}
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg amqp.Delivery) {
	if err := c.handler(ctx, msg.Body); err != nil {
		c.log.Warn().Err(err).Uint64("delivery_tag", msg.DeliveryTag).Msg("handle message failed")
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}
