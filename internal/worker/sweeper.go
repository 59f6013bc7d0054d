// Package worker runs the background jobs of the server.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Expirer scores the open entries of every round past its deadline.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Sweeper periodically closes rounds whose timer ran out, so a round ends
// even when nobody is connected to ask for it.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(expirer Expirer, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{expirer: expirer, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is cancelled. A failed sweep is
// logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("timeout sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.expirer.ExpireOverdue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sweeping overdue rounds", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("timed out round entries", "count", n)
	}
}
