// Package scheduler runs the time-driven jobs that advance and clean the
// fulfillment structures: reservation and cart sweeps, auto-confirm and its
// backstop, courier presence timeout, and delivery reminders. Every job is
// idempotent and processes per record, so an interrupted run leaves finished
// records correct and the rest for the next tick.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fulfillment-core/internal/metrics"
)

type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

type Runner struct {
	Jobs   []Job
	Budget time.Duration // per-run deadline
	Log    *zap.Logger
}

// Start runs every job on its own ticker until ctx is cancelled. Each job
// fires once immediately so a restart does not wait out a full interval.
func (r *Runner) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range r.Jobs {
		j := j
		g.Go(func() error {
			t := time.NewTicker(j.Interval())
			defer t.Stop()

			r.runOnce(ctx, j)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					r.runOnce(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

// runOnce gives the job a bounded slice of time. A returned error is systemic
// (per-record errors are the job's to log and count); the run is abandoned
// and retried on the next tick.
func (r *Runner) runOnce(parent context.Context, j Job) {
	ctx := parent
	cancel := context.CancelFunc(func() {})
	if r.Budget > 0 {
		ctx, cancel = context.WithTimeout(parent, r.Budget)
	}
	defer cancel()

	start := time.Now()
	err := j.Run(ctx)
	metrics.RecordJobRun(j.Name(), err)
	if err != nil {
		r.Log.Error("job run failed",
			zap.String("job", j.Name()),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return
	}
	r.Log.Info("job run done",
		zap.String("job", j.Name()),
		zap.Duration("took", time.Since(start)))
}
