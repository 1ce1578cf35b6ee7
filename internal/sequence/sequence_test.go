package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestRepository_Reserve(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO event_sequence .* last_sequence \+ EXCLUDED.last_sequence`).
		WithArgs("product-7", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"last_sequence"}).AddRow(int64(3)))
	mock.ExpectQuery(`INSERT INTO event_sequence`).
		WithArgs("product-7", int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"last_sequence"}).AddRow(int64(7)))

	repo := NewRepository(mock)
	first, err := repo.Reserve(context.Background(), "product-7", 1)
	require.NoError(t, err)
	require.Equal(t, int64(3), first)

	first, err = repo.Reserve(context.Background(), "product-7", 4)
	require.NoError(t, err)
	require.Equal(t, int64(4), first, "block 4..7")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ReserveErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO event_sequence`).
		WithArgs("product-7", int64(1)).
		WillReturnError(errors.New("db down"))

	repo := NewRepository(mock)
	_, err = repo.Reserve(context.Background(), "product-7", 1)
	require.ErrorContains(t, err, "reserve 1 sequences for product-7")

	_, err = repo.Reserve(context.Background(), "product-7", 0)
	require.ErrorContains(t, err, "count must be positive")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory_ReserveIsPerPartitionAndGapless(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Reserve(ctx, "product-1", 1)
		}()
	}
	wg.Wait()

	next, err := m.Reserve(ctx, "product-1", 3)
	require.NoError(t, err)
	require.Equal(t, int64(51), next)

	next, err = m.Reserve(ctx, "product-1", 1)
	require.NoError(t, err)
	require.Equal(t, int64(54), next)

	other, err := m.Reserve(ctx, "order-1", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), other)

	_, err = m.Reserve(ctx, "order-1", -2)
	require.Error(t, err)
}
