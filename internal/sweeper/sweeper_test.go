package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/andreasstove999/ecommerce-system/services/hold-service-go/internal/inventory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedExpirer struct {
	mu      sync.Mutex
	results []int
	err     error
	calls   int
}

func (s *scriptedExpirer) ReleaseExpired(_ context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	n := s.results[0]
	s.results = s.results[1:]
	if n > limit {
		n = limit
	}
	return n, nil
}

func (s *scriptedExpirer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSweepDrainsFullBatches(t *testing.T) {
	exp := &scriptedExpirer{results: []int{10, 10, 3}}
	s := New(exp, time.Hour, 10, zerolog.Nop())

	require.Equal(t, 23, s.Sweep(context.Background()))
	require.Equal(t, 3, exp.Calls())
}

func TestSweepStopsOnError(t *testing.T) {
	exp := &scriptedExpirer{err: errors.New("db down")}
	s := New(exp, time.Hour, 10, zerolog.Nop())

	require.Zero(t, s.Sweep(context.Background()))
	require.Equal(t, 1, exp.Calls())
}

func TestRunStopsOnCancel(t *testing.T) {
	exp := &scriptedExpirer{}
	s := New(exp, 5*time.Millisecond, 10, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return exp.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSweepReturnsExpiredStock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	svc := inventory.NewService(inventory.NewMemoryRepository(),
		inventory.WithClock(clock),
		inventory.WithHoldTTL(time.Minute),
	)
	ctx := context.Background()
	p, err := svc.CreateProduct(ctx, inventory.NewProduct{Name: "flash item", Price: 1, TotalStock: 5})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := svc.CreateHold(ctx, p.ID, 1)
		require.NoError(t, err)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	require.Equal(t, 5, New(svc, time.Hour, 2, zerolog.Nop()).Sweep(ctx))
	av, err := svc.GetAvailability(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 5, av.AvailableStock)
}
