package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nero/internal/domain"
	"nero/internal/reconcile"
)

const defaultSweepBatch = 100

type SweeperOptions struct {
	// MinAge skips tasks younger than this so webhooks get a chance first.
	MinAge      time.Duration
	TaskTTL     time.Duration
	Concurrency int
	BatchSize   int
	Now         func() time.Time
	Logger      zerolog.Logger
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Checked  int
	Settled  int
	Expired  int
	Failures int
}

// Sweeper polls the provider on behalf of clients for tasks that never got a
// webhook, and expires tasks the provider never resolves.
type Sweeper struct {
	service *Service
	opts    SweeperOptions
}

func NewSweeper(service *Service, opts SweeperOptions) *Sweeper {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{service: service, opts: opts}
}

// RunOnce checks one batch of unresolved tasks.
func (w *Sweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	now := w.opts.Now()
	tasks, err := w.service.tasks.ListUnresolved(ctx, now.Add(-w.opts.MinAge), w.opts.BatchSize)
	if err != nil {
		return SweepStats{}, fmt.Errorf("sweeper: list unresolved: %w", err)
	}

	results := make([]sweepResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for i := range tasks {
		i, task := i, tasks[i]
		g.Go(func() error {
			results[i] = w.sweep(gctx, &task, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{Checked: len(tasks)}
	for _, r := range results {
		switch r {
		case sweepSettled:
			stats.Settled++
		case sweepExpired:
			stats.Expired++
		case sweepFailed:
			stats.Failures++
		}
	}
	if stats.Checked > 0 {
		w.opts.Logger.Info().
			Int("checked", stats.Checked).
			Int("settled", stats.Settled).
			Int("expired", stats.Expired).
			Int("failures", stats.Failures).
			Msg("sweeper: pass finished")
	}
	return stats, ctx.Err()
}

// Run sweeps every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.opts.Logger.Error().Err(err).Msg("sweeper: pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type sweepResult int

const (
	sweepPending sweepResult = iota
	sweepSettled
	sweepExpired
	sweepFailed
)

func (w *Sweeper) sweep(ctx context.Context, task *domain.Task, now time.Time) sweepResult {
	log := w.opts.Logger.With().Str("task_id", task.ID).Logger()
	if w.opts.TaskTTL > 0 && now.Sub(task.CreatedAt) > w.opts.TaskTTL {
		reason := fmt.Sprintf("expired: no provider result within %s", w.opts.TaskTTL)
		updated, err := w.service.reconciler.Apply(ctx, reconcile.Delivery{
			TaskID:  task.ID,
			Outcome: domain.FailedTerminal(reason),
			Source:  reconcile.SourceSweeper,
		})
		if err != nil {
			log.Warn().Err(err).Msg("sweeper: expire failed")
			return sweepFailed
		}
		if updated.Status == domain.TaskStatusFailed && updated.ErrorDetail == reason {
			log.Info().Msg("sweeper: task expired")
			return sweepExpired
		}
		return sweepSettled
	}

	updated, err := w.service.refresh(ctx, task, reconcile.SourceSweeper, "")
	if err != nil {
		log.Warn().Err(err).Msg("sweeper: reconcile failed")
		return sweepFailed
	}
	if updated.Status.Terminal() {
		return sweepSettled
	}
	return sweepPending
}
