package inventory

import (
	"encoding/json"
	"time"
)

type Product struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	TotalStock int       `json:"total_stock"`
	HeldStock  int       `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Available is derived from the same snapshot as TotalStock and HeldStock.
func (p Product) Available() int {
	return p.TotalStock - p.HeldStock
}

// Availability is the public view of a product's stock. AvailableStock is the
// canonical field name clients read.
type Availability struct {
	ProductID      int64  `json:"id"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	TotalStock     int    `json:"total_stock"`
	AvailableStock int    `json:"available_stock"`
}

func (p Product) Availability() Availability {
	return Availability{
		ProductID:      p.ID,
		Name:           p.Name,
		Price:          p.Price,
		TotalStock:     p.TotalStock,
		AvailableStock: p.Available(),
	}
}

type NewProduct struct {
	Name       string `json:"name" yaml:"name"`
	Price      int64  `json:"price" yaml:"price"`
	TotalStock int    `json:"total_stock" yaml:"total_stock"`
}

type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldReleased  HoldStatus = "released"
	HoldExpired   HoldStatus = "expired"
	HoldConverted HoldStatus = "converted"
)

type Hold struct {
	ID        string     `json:"hold_id"`
	ProductID int64      `json:"product_id"`
	Quantity  int        `json:"qty"`
	Status    HoldStatus `json:"status"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// HoldRequest carries everything a store needs to place a hold. ID and the
// timestamps are chosen by the caller so stores stay deterministic.
type HoldRequest struct {
	ID        string
	ProductID int64
	Quantity  int
	Now       time.Time
	ExpiresAt time.Time
}

// ReserveResult reports the hold together with the counter state observed at
// commit time.
type ReserveResult struct {
	Hold      Hold
	Available int
}

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderCancelled      OrderStatus = "cancelled"
)

type Order struct {
	ID        string      `json:"id"`
	HoldID    string      `json:"hold_id"`
	ProductID int64       `json:"product_id"`
	Quantity  int         `json:"qty"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailure PaymentStatus = "failure"
)

type PaymentWebhook struct {
	WebhookID string          `json:"webhook_id"`
	OrderID   string          `json:"order_id"`
	Status    PaymentStatus   `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type PaymentLog struct {
	WebhookID string          `json:"webhook_id"`
	OrderID   string          `json:"order_id"`
	Status    PaymentStatus   `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PaymentResult is the outcome of applying a webhook. Order is the order state
// after the webhook; Duplicate is set when the webhook id was already recorded
// and nothing changed.
type PaymentResult struct {
	Log       PaymentLog
	Order     Order
	Duplicate bool
	// Changed is set when the webhook moved the order to a new status.
	Changed bool
}
