package events

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange     = "flashsale.events"
	DeadLetterExchange = "flashsale.events.dlx"

	HoldCreatedRoutingKey      = "hold.created.v1"
	HoldReleasedRoutingKey     = "hold.released.v1"
	StockDepletedRoutingKey    = "stock.depleted.v1"
	OrderCreatedRoutingKey     = "order.created.v1"
	OrderStatusRoutingKey      = "order.status.v1"
	PaymentProcessedRoutingKey = "payment.processed.v1"

	holdServiceName = "hold-service-go"
)

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func holdServiceQueueName(routingKey string) string {
	return serviceQueue(holdServiceName, routingKey)
}

func declareEventsExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// declareConsumerQueue declares a durable queue bound to routingKey whose
// rejected messages are dead-lettered to "<queue>.dlq".
func declareConsumerQueue(ch *amqp.Channel, queue, routingKey string) error {
	if err := declareEventsExchange(ch); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(dlq, queue, DeadLetterExchange, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return err
	}
	return ch.QueueBind(queue, routingKey, EventsExchange, false, nil)
}
