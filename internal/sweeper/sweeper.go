// Package sweeper periodically returns the stock of expired holds.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Expirer runs one bounded sweep and reports how many holds it expired.
type Expirer interface {
	ReleaseExpired(ctx context.Context, limit int) (int, error)
}

type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	batch    int
	log      zerolog.Logger
}

func New(expirer Expirer, interval time.Duration, batch int, log zerolog.Logger) *Sweeper {
	return &Sweeper{expirer: expirer, interval: interval, batch: batch, log: log}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Int("batch", s.batch).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep drains expired holds in batches until a batch comes back short.
func (s *Sweeper) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.expirer.ReleaseExpired(ctx, s.batch)
		total += n
		if err != nil {
			if ctx.Err() == nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
			break
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.log.Info().Int("expired", total).Msg("sweep complete")
	}
	return total
}
