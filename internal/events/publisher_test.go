package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/sequence"
)

type published struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, routingKey: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type failingSequencer struct{}

func (failingSequencer) Reserve(context.Context, string, int) (int64, error) {
	return 0, errors.New("sequence table locked")
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPublisher(ch amqpChannel, seq Sequencer) *Publisher {
	p := newPublisher(ch, seq, PublisherOptions{Logger: zerolog.Nop()})
	p.now = func() time.Time { return testNow }
	return p
}

func decodeEnvelope(t *testing.T, p published) EventEnvelope {
	t.Helper()
	env, err := parseEnvelope(p.msg.Body)
	require.NoError(t, err)
	return env
}

func TestPublisher_HoldCreated(t *testing.T) {
	ch := &fakeChannel{}
	pub := newTestPublisher(ch, sequence.NewMemory())
	hold := inventory.Hold{
		ID:        "3f0c2a8e-5b7d-4e61-9a2f-0d4c6b1e8a73",
		ProductID: 7,
		Quantity:  2,
		Status:    inventory.HoldActive,
		ExpiresAt: testNow.Add(2 * time.Minute),
	}

	require.NoError(t, pub.HoldCreated(context.Background(), hold, 8))
	require.NoError(t, pub.StockDepleted(context.Background(), 7))

	require.Len(t, ch.sent, 2)
	require.Equal(t, EventsExchange, ch.sent[0].exchange)
	require.Equal(t, HoldCreatedRoutingKey, ch.sent[0].routingKey)
	require.Equal(t, "application/json", ch.sent[0].msg.ContentType)
	require.Equal(t, amqp.Persistent, ch.sent[0].msg.DeliveryMode)

	env := decodeEnvelope(t, ch.sent[0])
	require.NoError(t, env.Validate(EventTypeHoldCreated, 1))
	require.Equal(t, "product-7", env.PartitionKey)
	require.Equal(t, int64(1), env.Sequence)
	require.Equal(t, holdServiceName, env.Producer)
	require.Equal(t, holdCreatedSchema, env.Schema)
	require.NotEmpty(t, env.CorrelationID)

	var payload HoldCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Equal(t, HoldCreatedPayload{
		HoldID:         hold.ID,
		ProductID:      7,
		Quantity:       2,
		AvailableStock: 8,
		ExpiresAt:      hold.ExpiresAt,
		Timestamp:      testNow,
	}, payload)

	depleted := decodeEnvelope(t, ch.sent[1])
	require.NoError(t, depleted.Validate(EventTypeStockDepleted, 1))
	require.Equal(t, StockDepletedRoutingKey, ch.sent[1].routingKey)
	require.Equal(t, int64(2), depleted.Sequence, "same product partition continues the sequence")
}

func TestPublisher_HoldsReleasedOnePerHold(t *testing.T) {
	ch := &fakeChannel{}
	pub := newTestPublisher(ch, sequence.NewMemory())
	holds := []inventory.Hold{
		{ID: "h-1", ProductID: 1, Quantity: 1},
		{ID: "h-2", ProductID: 2, Quantity: 4},
	}

	require.NoError(t, pub.HoldsReleased(context.Background(), holds, inventory.ReleaseReasonExpired))

	require.Len(t, ch.sent, 2)
	for i, sent := range ch.sent {
		require.Equal(t, HoldReleasedRoutingKey, sent.routingKey)
		env := decodeEnvelope(t, sent)
		var payload HoldReleasedPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		require.Equal(t, holds[i].ID, payload.HoldID)
		require.Equal(t, inventory.ReleaseReasonExpired, payload.Reason)
		require.Equal(t, int64(1), env.Sequence)
	}
}

type countingSequencer struct {
	*sequence.Memory
	calls map[string]int
}

func (c *countingSequencer) Reserve(ctx context.Context, partitionKey string, n int) (int64, error) {
	c.calls[partitionKey]++
	return c.Memory.Reserve(ctx, partitionKey, n)
}

func TestPublisher_HoldsReleasedReservesOneBlockPerProduct(t *testing.T) {
	ch := &fakeChannel{}
	seq := &countingSequencer{Memory: sequence.NewMemory(), calls: map[string]int{}}
	pub := newTestPublisher(ch, seq)
	require.NoError(t, pub.StockDepleted(context.Background(), 1))

	holds := []inventory.Hold{
		{ID: "h-1", ProductID: 1, Quantity: 1},
		{ID: "h-2", ProductID: 2, Quantity: 2},
		{ID: "h-3", ProductID: 1, Quantity: 3},
		{ID: "h-4", ProductID: 1, Quantity: 4},
	}
	require.NoError(t, pub.HoldsReleased(context.Background(), holds, inventory.ReleaseReasonExpired))

	require.Equal(t, map[string]int{"product-1": 2, "product-2": 1}, seq.calls)

	got := map[string]int64{}
	for _, sent := range ch.sent[1:] {
		env := decodeEnvelope(t, sent)
		var payload HoldReleasedPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		got[payload.HoldID] = env.Sequence
	}
	require.Equal(t, map[string]int64{"h-1": 2, "h-3": 3, "h-4": 4, "h-2": 1}, got)
}

func TestPublisher_OrderEventsCarryCorrelation(t *testing.T) {
	ch := &fakeChannel{}
	pub := newTestPublisher(ch, sequence.NewMemory())
	ctx := WithMeta(context.Background(), EventMeta{CorrelationID: "corr-1", CausationID: "evt-9"})
	order := inventory.Order{ID: "order-1", HoldID: "h-1", ProductID: 7, Quantity: 2, Status: inventory.OrderPendingPayment}

	require.NoError(t, pub.OrderCreated(ctx, order))
	order.Status = inventory.OrderPaid
	require.NoError(t, pub.OrderStatusChanged(ctx, order))

	require.Len(t, ch.sent, 2)
	created := decodeEnvelope(t, ch.sent[0])
	require.NoError(t, created.Validate(EventTypeOrderCreated, 1))
	require.Equal(t, "order-1", created.PartitionKey)
	require.Equal(t, "corr-1", created.CorrelationID)
	require.Equal(t, "evt-9", created.CausationID)

	status := decodeEnvelope(t, ch.sent[1])
	require.Equal(t, OrderStatusRoutingKey, ch.sent[1].routingKey)
	require.Equal(t, int64(2), status.Sequence)
	var payload OrderStatusPayload
	require.NoError(t, json.Unmarshal(status.Payload, &payload))
	require.Equal(t, "paid", payload.Status)
}

func TestPublisher_Errors(t *testing.T) {
	pub := newTestPublisher(&fakeChannel{}, failingSequencer{})
	err := pub.StockDepleted(context.Background(), 1)
	require.ErrorContains(t, err, "reserve sequence")

	ch := &fakeChannel{err: amqp.ErrClosed}
	pub = newTestPublisher(ch, sequence.NewMemory())
	err = pub.StockDepleted(context.Background(), 1)
	require.ErrorIs(t, err, amqp.ErrClosed)

	require.NoError(t, pub.Close())
	require.True(t, ch.closed)
}

func TestEnvelopeValidate(t *testing.T) {
	env, err := newEnvelope(EventMeta{}, EventTypeHoldCreated, holdCreatedSchema, "product-1", 1, "hold-service-go", map[string]int{"a": 1}, testNow)
	require.NoError(t, err)
	require.NoError(t, env.Validate(EventTypeHoldCreated, 1))

	wrongName := env
	wrongName.EventName = "WrongName"
	require.Error(t, wrongName.Validate(EventTypeHoldCreated, 1))

	noPartition := env
	noPartition.PartitionKey = ""
	require.Error(t, noPartition.Validate(EventTypeHoldCreated, 1))

	require.Error(t, env.Validate(EventTypeHoldCreated, 2))
}
