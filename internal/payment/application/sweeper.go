package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/palsapos/payments/pkg/clock"
	"github.com/palsapos/payments/pkg/metrics"
)

// Sweeper times out attempts whose provider never called back. The
// conditional update in ExpireStale means a racing callback and a sweep
// cannot both resolve the same attempt.
type Sweeper struct {
	log      *slog.Logger
	repo     Repository
	clock    clock.Clock
	interval time.Duration
	window   time.Duration
	metrics  *metrics.Payments
}

func NewSweeper(log *slog.Logger, repo Repository, clk clock.Clock, interval, window time.Duration, m *metrics.Payments) *Sweeper {
	return &Sweeper{
		log:      log,
		repo:     repo,
		clock:    clk,
		interval: interval,
		window:   window,
		metrics:  m,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return nil
		case <-t.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("sweep error", "err", err)
			}
		}
	}
}

// SweepOnce expires every non-terminal attempt older than the window.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.window)
	n, err := s.repo.ExpireStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		s.metrics.TimedOut.Add(float64(n))
		s.log.Info("stale attempts timed out", "count", n, "cutoff", cutoff)
	}
	return nil
}
