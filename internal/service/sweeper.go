package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/filevault/internal/metrics"
)

// Sweeper periodically deletes expired refresh tokens off the request path.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewSweeper(ledger *Ledger, interval time.Duration, log zerolog.Logger, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{ledger: ledger, interval: interval, log: log, metrics: m}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Sweep runs one purge and returns the number of rows removed.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	n, err := s.ledger.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("refresh token purge failed")
		}
		return 0
	}
	s.metrics.Purged(n)
	if n > 0 {
		s.log.Info().Int64("purged", n).Msg("expired refresh tokens purged")
	}
	return n
}
