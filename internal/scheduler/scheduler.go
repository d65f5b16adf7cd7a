// Package scheduler drives the wall-clock side of the task lifecycle: the
// expiration sweep and daily recurring regeneration. Both passes are
// idempotent, so the ticker's at-least-once behavior is harmless.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

const DefaultInterval = time.Minute

// Runner is the set of time-driven passes. Satisfied by engine.Engine.
type Runner interface {
	SweepExpirations(ctx context.Context) int
	RegenerateRecurring(ctx context.Context) int
}

type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
}

func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Run fires both passes once immediately, then on every tick until ctx is
// cancelled. On shutdown the ticker simply stops; there is nothing to
// cancel mid-pass.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.runner.RegenerateRecurring(ctx)
	s.runner.SweepExpirations(ctx)
}
