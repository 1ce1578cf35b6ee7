// Package dedup tracks the highest envelope sequence each consumer has applied
// per partition so redelivered or reordered events can be skipped.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Checkpoints persists checkpoints in the consumer_checkpoints table.
type Checkpoints struct {
	exec Executor
}

func NewCheckpoints(exec Executor) *Checkpoints {
	return &Checkpoints{exec: exec}
}

// Last returns the checkpoint for consumer and partition. ok is false when the
// partition has never been seen.
func (c *Checkpoints) Last(ctx context.Context, consumer, partitionKey string) (seq int64, ok bool, err error) {
	err = c.exec.QueryRow(ctx, `
		SELECT last_sequence
		FROM consumer_checkpoints
		WHERE consumer_name = $1 AND partition_key = $2
	`, consumer, partitionKey).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select checkpoint %s/%s: %w", consumer, partitionKey, err)
	}
	return seq, true, nil
}

// Advance moves the checkpoint forward. It never moves it back, so racing
// consumers converge on the highest sequence.
func (c *Checkpoints) Advance(ctx context.Context, consumer, partitionKey string, seq int64) error {
	_, err := c.exec.Exec(ctx, `
		INSERT INTO consumer_checkpoints (consumer_name, partition_key, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer_name, partition_key)
		DO UPDATE SET
			last_sequence = GREATEST(consumer_checkpoints.last_sequence, EXCLUDED.last_sequence),
			updated_at = now()
	`, consumer, partitionKey, seq)
	if err != nil {
		return fmt.Errorf("advance checkpoint %s/%s: %w", consumer, partitionKey, err)
	}
	return nil
}

type memoryKey struct {
	consumer  string
	partition string
}

// Memory keeps checkpoints in process memory.
type Memory struct {
	mu   sync.Mutex
	last map[memoryKey]int64
}

func NewMemory() *Memory {
	return &Memory{last: make(map[memoryKey]int64)}
}

func (m *Memory) Last(_ context.Context, consumer, partitionKey string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.last[memoryKey{consumer, partitionKey}]
	return seq, ok, nil
}

func (m *Memory) Advance(_ context.Context, consumer, partitionKey string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey{consumer, partitionKey}
	if seq > m.last[k] {
		m.last[k] = seq
	}
	return nil
}
