// Package sweeper runs the background task that removes expired secrets.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Pruner is the store operation a Sweeper drives on each tick. Store.Prune
// satisfies it.
type Pruner interface {
	Prune() (int, error)
}

// Sweeper periodically prunes expired records. It is purely an optimization:
// correctness of expiry does not depend on it, since every read path also
// removes expired records it encounters.
type Sweeper struct {
	interval time.Duration
	pruner   Pruner
	logger   *slog.Logger
}

// New creates a Sweeper that calls pruner.Prune() once per interval.
func New(interval time.Duration, pruner Pruner, logger *slog.Logger) *Sweeper {
	return &Sweeper{interval: interval, pruner: pruner, logger: logger}
}

// Start runs the sweep loop until ctx is cancelled. It performs one scan per
// tick and never holds a transaction while waiting for the next one.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("starting expiry sweeper", slog.Duration("interval", s.interval))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.Info("stopping expiry sweeper")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(); err != nil {
				if s.logger != nil {
					s.logger.Error("sweep tick failed", slog.Any("error", err))
				}
			}
		}
	}
}

// Tick runs a single sweep pass.
func (s *Sweeper) Tick() error {
	pruned, err := s.pruner.Prune()
	if err != nil {
		return err
	}
	if pruned > 0 && s.logger != nil {
		s.logger.Info("swept expired secrets", slog.Int("count", pruned))
	}
	return nil
}
