package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/metrics"
)

const DefaultHoldTTL = 2 * time.Minute

// Reasons attached to released holds.
const (
	ReleaseReasonClient  = "released"
	ReleaseReasonExpired = "expired"
	ReleaseReasonPayment = "payment_failed"
)

// EventPublisher announces committed state changes. Publishing happens after
// the store commits and never affects the outcome of an operation.
type EventPublisher interface {
	HoldCreated(ctx context.Context, hold Hold, available int) error
	HoldsReleased(ctx context.Context, holds []Hold, reason string) error
	StockDepleted(ctx context.Context, productID int64) error
	OrderCreated(ctx context.Context, order Order) error
	OrderStatusChanged(ctx context.Context, order Order) error
}

type noopPublisher struct{}

func (noopPublisher) HoldCreated(context.Context, Hold, int) error        { return nil }
func (noopPublisher) HoldsReleased(context.Context, []Hold, string) error { return nil }
func (noopPublisher) StockDepleted(context.Context, int64) error          { return nil }
func (noopPublisher) OrderCreated(context.Context, Order) error           { return nil }
func (noopPublisher) OrderStatusChanged(context.Context, Order) error     { return nil }

// Service validates requests and drives the Repository. It holds no mutable
// state of its own; every counter lives behind the Repository.
type Service struct {
	repo      Repository
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	holdTTL   time.Duration
}

type Option func(*Service)

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithHoldTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.holdTTL = ttl
		}
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		publisher: noopPublisher{},
		log:       zerolog.Nop(),
		tracer:    otel.Tracer("hold-service-go/inventory"),
		now:       func() time.Time { return time.Now().UTC() },
		holdTTL:   DefaultHoldTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) HoldTTL() time.Duration { return s.holdTTL }

func (s *Service) CreateProduct(ctx context.Context, p NewProduct) (Product, error) {
	if p.Name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if p.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrInvalidRequest)
	}
	if p.TotalStock < 0 {
		return Product{}, fmt.Errorf("%w: total_stock must not be negative", ErrInvalidRequest)
	}
	out, err := s.repo.CreateProduct(ctx, p, s.now())
	if err != nil {
		return Product{}, err
	}
	s.log.Info().Int64("product_id", out.ID).Int("total_stock", out.TotalStock).Msg("product created")
	return out, nil
}

// GetAvailability reads total and available stock from a single snapshot.
func (s *Service) GetAvailability(ctx context.Context, productID int64) (Availability, error) {
	if productID <= 0 {
		return Availability{}, fmt.Errorf("%w: product id must be positive", ErrInvalidRequest)
	}
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return Availability{}, err
	}
	return p.Availability(), nil
}

// CreateHold reserves qty units of a product. Validation failures and
// insufficient stock leave the counter untouched.
func (s *Service) CreateHold(ctx context.Context, productID int64, qty int) (Hold, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CreateHold", trace.WithAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int("hold.qty", qty),
	))
	defer span.End()

	if productID <= 0 {
		s.metrics.HoldRejected("invalid_request")
		return Hold{}, fmt.Errorf("%w: product_id must be positive", ErrInvalidRequest)
	}
	if qty <= 0 {
		s.metrics.HoldRejected("invalid_request")
		return Hold{}, fmt.Errorf("%w: qty must be positive", ErrInvalidRequest)
	}

	now := s.now()
	start := time.Now()
	res, err := s.repo.Reserve(ctx, HoldRequest{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  qty,
		Now:       now,
		ExpiresAt: now.Add(s.holdTTL),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientStock):
			s.metrics.HoldRejected("insufficient_stock")
			span.SetAttributes(attribute.Int("product.available", res.Available))
		case errors.Is(err, ErrNotFound):
			s.metrics.HoldRejected("not_found")
		default:
			s.metrics.HoldRejected("error")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return Hold{}, err
	}
	s.metrics.HoldCreated(time.Since(start))
	span.SetAttributes(attribute.String("hold.id", res.Hold.ID))

	s.log.Debug().
		Str("hold_id", res.Hold.ID).
		Int64("product_id", productID).
		Int("qty", qty).
		Int("available", res.Available).
		Msg("hold created")

	if err := s.publisher.HoldCreated(ctx, res.Hold, res.Available); err != nil {
		s.log.Warn().Err(err).Str("hold_id", res.Hold.ID).Msg("publish hold created failed")
	}
	if res.Available == 0 {
		if err := s.publisher.StockDepleted(ctx, productID); err != nil {
			s.log.Warn().Err(err).Int64("product_id", productID).Msg("publish stock depleted failed")
		}
	}
	return res.Hold, nil
}

func (s *Service) GetHold(ctx context.Context, holdID string) (Hold, error) {
	if err := validateID("hold id", holdID); err != nil {
		return Hold{}, err
	}
	return s.repo.GetHold(ctx, holdID)
}

// ReleaseHold cancels an active hold and returns its stock. Releasing a hold
// that is no longer active fails with ErrHoldNotActive.
func (s *Service) ReleaseHold(ctx context.Context, holdID string) (Hold, error) {
	if err := validateID("hold id", holdID); err != nil {
		return Hold{}, err
	}
	h, err := s.repo.ReleaseHold(ctx, holdID, s.now())
	if err != nil {
		return h, err
	}
	s.metrics.HoldsReleased(ReleaseReasonClient, 1)
	if err := s.publisher.HoldsReleased(ctx, []Hold{h}, ReleaseReasonClient); err != nil {
		s.log.Warn().Err(err).Str("hold_id", h.ID).Msg("publish hold released failed")
	}
	return h, nil
}

// ReleaseExpired runs one sweep over holds past their deadline and returns
// how many were expired.
func (s *Service) ReleaseExpired(ctx context.Context, limit int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ReleaseExpired")
	defer span.End()

	expired, err := s.repo.ReleaseExpired(ctx, s.now(), limit)
	if err != nil {
		// The memory store commits per product, so part of a cancelled
		// sweep may already be applied.
		s.metrics.HoldsReleased(ReleaseReasonExpired, len(expired))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return len(expired), err
	}
	span.SetAttributes(attribute.Int("holds.expired", len(expired)))
	if len(expired) == 0 {
		return 0, nil
	}

	s.metrics.HoldsReleased(ReleaseReasonExpired, len(expired))
	s.log.Info().Int("count", len(expired)).Msg("expired holds released")
	if err := s.publisher.HoldsReleased(ctx, expired, ReleaseReasonExpired); err != nil {
		s.log.Warn().Err(err).Int("count", len(expired)).Msg("publish holds expired failed")
	}
	return len(expired), nil
}

// CreateOrder converts an active, unexpired hold into an order awaiting
// payment. The held stock moves with it.
func (s *Service) CreateOrder(ctx context.Context, holdID string) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CreateOrder", trace.WithAttributes(
		attribute.String("hold.id", holdID),
	))
	defer span.End()

	if err := validateID("hold_id", holdID); err != nil {
		return Order{}, err
	}
	o, err := s.repo.CreateOrder(ctx, uuid.NewString(), holdID, s.now())
	if err != nil {
		return Order{}, err
	}
	s.metrics.OrderTransition(string(o.Status))
	s.log.Info().Str("order_id", o.ID).Str("hold_id", holdID).Msg("order created")

	if err := s.publisher.OrderCreated(ctx, o); err != nil {
		s.log.Warn().Err(err).Str("order_id", o.ID).Msg("publish order created failed")
	}
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if err := validateID("order id", orderID); err != nil {
		return Order{}, err
	}
	return s.repo.GetOrder(ctx, orderID)
}

// ProcessPayment applies a payment webhook. A webhook id is applied at most
// once; redeliveries report the recorded outcome. A failed payment cancels a
// pending order and returns its stock.
func (s *Service) ProcessPayment(ctx context.Context, wh PaymentWebhook) (PaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ProcessPayment", trace.WithAttributes(
		attribute.String("payment.webhook_id", wh.WebhookID),
		attribute.String("order.id", wh.OrderID),
	))
	defer span.End()

	if wh.WebhookID == "" {
		return PaymentResult{}, fmt.Errorf("%w: webhook_id is required", ErrInvalidRequest)
	}
	if err := validateID("order_id", wh.OrderID); err != nil {
		return PaymentResult{}, err
	}
	if wh.Status != PaymentSuccess && wh.Status != PaymentFailure {
		return PaymentResult{}, fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, wh.Status)
	}

	res, err := s.repo.ApplyPayment(ctx, wh, s.now())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return PaymentResult{}, err
	}

	switch {
	case res.Duplicate:
		s.metrics.PaymentProcessed("duplicate")
		s.log.Info().Str("webhook_id", wh.WebhookID).Msg("duplicate payment webhook ignored")
		return res, nil
	case !res.Changed:
		s.metrics.PaymentProcessed("ignored")
		s.log.Info().
			Str("webhook_id", wh.WebhookID).
			Str("order_id", wh.OrderID).
			Str("order_status", string(res.Order.Status)).
			Msg("payment webhook for settled order recorded")
		return res, nil
	}

	s.metrics.PaymentProcessed("applied")
	s.metrics.OrderTransition(string(res.Order.Status))
	s.log.Info().
		Str("webhook_id", wh.WebhookID).
		Str("order_id", res.Order.ID).
		Str("order_status", string(res.Order.Status)).
		Msg("payment applied")

	if err := s.publisher.OrderStatusChanged(ctx, res.Order); err != nil {
		s.log.Warn().Err(err).Str("order_id", res.Order.ID).Msg("publish order status failed")
	}
	if res.Order.Status == OrderCancelled {
		s.metrics.HoldsReleased(ReleaseReasonPayment, 1)
		released := Hold{
			ID:        res.Order.HoldID,
			ProductID: res.Order.ProductID,
			Quantity:  res.Order.Quantity,
			Status:    HoldConverted,
			UpdatedAt: res.Order.UpdatedAt,
		}
		if err := s.publisher.HoldsReleased(ctx, []Hold{released}, ReleaseReasonPayment); err != nil {
			s.log.Warn().Err(err).Str("order_id", res.Order.ID).Msg("publish stock returned failed")
		}
	}
	return res, nil
}

func validateID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s is not a valid uuid", ErrInvalidRequest, field)
	}
	return nil
}
