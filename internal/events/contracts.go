package events

import "time"

const (
	EventTypeHoldCreated      = "HoldCreated"
	EventTypeHoldReleased     = "HoldReleased"
	EventTypeStockDepleted    = "StockDepleted"
	EventTypeOrderCreated     = "OrderCreated"
	EventTypeOrderStatus      = "OrderStatusChanged"
	EventTypePaymentProcessed = "PaymentProcessed"

	holdCreatedSchema      = "flashsale.hold.created.v1"
	holdReleasedSchema     = "flashsale.hold.released.v1"
	stockDepletedSchema    = "flashsale.stock.depleted.v1"
	orderCreatedSchema     = "flashsale.order.created.v1"
	orderStatusSchema      = "flashsale.order.status.v1"
	paymentProcessedSchema = "flashsale.payment.processed.v1"
)

type HoldCreatedPayload struct {
	HoldID         string    `json:"holdId"`
	ProductID      int64     `json:"productId"`
	Quantity       int       `json:"quantity"`
	AvailableStock int       `json:"availableStock"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Timestamp      time.Time `json:"timestamp"`
}

type HoldReleasedPayload struct {
	HoldID    string    `json:"holdId"`
	ProductID int64     `json:"productId"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// StockDepletedPayload is emitted when a hold takes a product's available
// stock to zero.
type StockDepletedPayload struct {
	ProductID int64     `json:"productId"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderCreatedPayload struct {
	OrderID   string    `json:"orderId"`
	HoldID    string    `json:"holdId"`
	ProductID int64     `json:"productId"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderStatusPayload struct {
	OrderID   string    `json:"orderId"`
	ProductID int64     `json:"productId"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentProcessedPayload is published by the payment provider bridge. Its
// webhookId is the idempotency key.
type PaymentProcessedPayload struct {
	WebhookID string         `json:"webhookId"`
	OrderID   string         `json:"orderId"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
}
