// Package sequence numbers event envelopes per partition key.
package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository keeps the last issued sequence per partition in event_sequence.
type Repository struct {
	db Querier
}

func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// Reserve claims n consecutive sequence numbers for partitionKey and returns
// the first of them. Concurrent callers receive disjoint blocks.
func (r *Repository) Reserve(ctx context.Context, partitionKey string, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve %d sequences for %s: count must be positive", n, partitionKey)
	}
	var last int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO event_sequence (partition_key, last_sequence)
		VALUES ($1, $2)
		ON CONFLICT (partition_key)
		DO UPDATE SET last_sequence = event_sequence.last_sequence + EXCLUDED.last_sequence, updated_at = now()
		RETURNING last_sequence
	`, partitionKey, int64(n)).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("reserve %d sequences for %s: %w", n, partitionKey, err)
	}
	return last - int64(n) + 1, nil
}
