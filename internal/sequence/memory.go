package sequence

import (
	"context"
	"fmt"
	"sync"
)

// Memory numbers partitions in process memory. Sequences restart with the
// process.
type Memory struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewMemory() *Memory {
	return &Memory{last: make(map[string]int64)}
}

func (m *Memory) Reserve(_ context.Context, partitionKey string, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve %d sequences for %s: count must be positive", n, partitionKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	first := m.last[partitionKey] + 1
	m.last[partitionKey] += int64(n)
	return first, nil
}
