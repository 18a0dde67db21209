// Package reconciler runs the periodic abandoned-meeting sweep. Each sweep
// executes under a time budget; partial progress is safe because
// termination is idempotent, so an interrupted sweep just resumes on the
// next tick.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/meetloop/backend/services/meeting/usecase"
)

type Reconciler struct {
	usecase  usecase.Usecase
	interval time.Duration
	budget   time.Duration
	log      *slog.Logger
}

func New(usc usecase.Usecase, interval, budget time.Duration, log *slog.Logger) *Reconciler {
	return &Reconciler{
		usecase:  usc,
		interval: interval,
		budget:   budget,
		log:      log,
	}
}

// Run blocks until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("reconciler started",
		slog.Duration("interval", r.interval),
		slog.Duration("budget", r.budget))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	result, err := r.usecase.Reconcile(sweepCtx)
	if err != nil {
		r.log.Error("reconciliation sweep failed", slog.String("error", err.Error()))
		return
	}

	if result.Processed > 0 {
		r.log.Info("reconciliation sweep done",
			slog.Int("processed", result.Processed),
			slog.Int("completed", result.Completed),
			slog.Int("errors", result.Errors))
	}
}
