package scheduler

import (
	"context"
	"time"
)

// Scheduler runs the reconciler on a fixed interval.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
}

// NewScheduler creates a scheduler ticking every interval.
func NewScheduler(r *Reconciler, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{reconciler: r, interval: interval}
}

// Run ticks immediately and then every interval until ctx is done. Ticks run
// inline so two never overlap; a tick that overruns the interval delays the
// next one instead of queueing more.
func (s *Scheduler) Run(ctx context.Context) {
	s.reconciler.log.Info().Dur("interval", s.interval).Msg("capsule reconciliation started")
	defer s.reconciler.log.Info().Msg("capsule reconciliation stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.reconciler.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconciler.Tick(ctx)
		}
	}
}
