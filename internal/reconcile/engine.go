package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nero/internal/domain"
)

// Source tells the engine where a delivery came from.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceSweeper Source = "sweeper"
)

// Delivery is one observation of a provider outcome for a task.
type Delivery struct {
	TaskID  string
	Outcome domain.Outcome
	Source  Source
	// RequesterID must match the task owner for SourcePoll.
	RequesterID string
}

// Materializer copies a remote result into local storage.
type Materializer interface {
	Materialize(ctx context.Context, remoteURL, folder string) (string, error)
}

// Debiter charges a completed task to its owner at most once.
type Debiter interface {
	Debit(ctx context.Context, userID, taskID string, cost int64) error
}

const (
	defaultClaimTTL               = 2 * time.Minute
	defaultMaxMaterializeAttempts = 3
	storageErrorPrefix            = "post-success storage error: "

	settleBackoff    = 20 * time.Millisecond
	settleBackoffMax = 250 * time.Millisecond
)

type Options struct {
	Folder                 string
	ClaimTTL               time.Duration
	MaxMaterializeAttempts int
	// SettleWait bounds how long a delivery that lost the claim waits for the
	// holder to finish. Zero means a quarter of ClaimTTL; negative disables
	// waiting.
	SettleWait time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Engine is the only writer of task status after submission.
type Engine struct {
	tasks   domain.TaskRepository
	images  domain.ImageRepository
	fetcher Materializer
	ledger  Debiter

	folder      string
	claimTTL    time.Duration
	maxAttempts int
	settleWait  time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

func NewEngine(tasks domain.TaskRepository, images domain.ImageRepository, fetcher Materializer, ledger Debiter, opts Options) *Engine {
	e := &Engine{
		tasks:       tasks,
		images:      images,
		fetcher:     fetcher,
		ledger:      ledger,
		folder:      opts.Folder,
		claimTTL:    opts.ClaimTTL,
		maxAttempts: opts.MaxMaterializeAttempts,
		settleWait:  opts.SettleWait,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if e.claimTTL <= 0 {
		e.claimTTL = defaultClaimTTL
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxMaterializeAttempts
	}
	switch {
	case e.settleWait == 0:
		e.settleWait = e.claimTTL / 4
	case e.settleWait >= e.claimTTL:
		e.settleWait = e.claimTTL / 2
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Apply folds one delivery into the task's state and returns the task as
// stored afterwards. Applying the same outcome any number of times, from any
// source, leaves the same final state and debits at most once.
//
// A delivery that finds another one holding the success claim re-applies
// with backoff until the task settles, so racing callers return the same
// result. ErrReconcileInProgress means the wait ran out or ctx ended first;
// the returned task is still usable as the current snapshot.
func (e *Engine) Apply(ctx context.Context, d Delivery) (*domain.Task, error) {
	task, err := e.apply(ctx, d)
	if e.settleWait < 0 || !errors.Is(err, domain.ErrReconcileInProgress) {
		return task, err
	}

	deadline := time.Now().Add(e.settleWait)
	backoff := settleBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return task, err
		}
		timer.Reset(min(backoff, remaining))
		select {
		case <-ctx.Done():
			return task, err
		case <-timer.C:
		}

		task, err = e.apply(ctx, d)
		if !errors.Is(err, domain.ErrReconcileInProgress) {
			return task, err
		}
		backoff = min(backoff*2, settleBackoffMax)
	}
}

func (e *Engine) apply(ctx context.Context, d Delivery) (*domain.Task, error) {
	task, err := e.load(ctx, d.TaskID)
	if err != nil {
		return nil, err
	}
	if d.Source == SourcePoll && task.OwnerID != d.RequesterID {
		return nil, fmt.Errorf("%w: task %s", domain.ErrUnauthorized, d.TaskID)
	}

	log := e.logger.With().
		Str("task_id", task.ID).
		Str("source", string(d.Source)).
		Str("outcome", d.Outcome.Kind.String()).
		Logger()

	if task.Status.Terminal() {
		e.mirror(ctx, task, log, true)
		return task, nil
	}

	decision := Transition(task.Status, d.Outcome, task.CostBearing())
	switch {
	case decision.Has(EffectMaterialize):
		return e.succeed(ctx, task, d.Outcome, decision, log)
	case decision.Next == domain.TaskStatusFailed:
		return e.fail(ctx, task, "", decision.ErrorDetail, log)
	case decision.Changed:
		if _, err := e.tasks.MarkProcessing(ctx, task.ID, e.now()); err != nil {
			return nil, fmt.Errorf("reconcile: mark processing %s: %w", task.ID, err)
		}
		log.Debug().Msg("reconcile: task processing")
		return e.load(ctx, task.ID)
	default:
		return task, nil
	}
}

func (e *Engine) succeed(ctx context.Context, task *domain.Task, outcome domain.Outcome, decision Decision, log zerolog.Logger) (*domain.Task, error) {
	token := uuid.NewString()
	now := e.now()
	claimed, err := e.tasks.Claim(ctx, task.ID, token, now, now.Add(-e.claimTTL))
	if err != nil {
		return nil, fmt.Errorf("reconcile: claim %s: %w", task.ID, err)
	}
	if !claimed {
		return e.settled(ctx, task.ID, log)
	}

	urls := outcome.URLs()
	if len(urls) == 0 {
		return e.fail(ctx, task, token, "provider reported success without a result", log)
	}
	refs := make([]string, 0, len(urls))
	for _, remote := range urls {
		ref, err := e.fetcher.Materialize(ctx, remote, e.folder)
		if err != nil {
			return e.materializeFailed(ctx, task, token, err, log)
		}
		refs = append(refs, ref)
	}

	completed, err := e.tasks.Complete(ctx, task.ID, token, refs, e.now())
	if err != nil {
		return nil, fmt.Errorf("reconcile: complete %s: %w", task.ID, err)
	}
	if !completed {
		// Our claim went stale and another delivery took over.
		log.Warn().Msg("reconcile: claim lost before completion")
		return e.settled(ctx, task.ID, log)
	}

	current, err := e.load(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("reference", current.PrimaryReference()).Msg("reconcile: task completed")
	e.mirror(ctx, current, log, false)

	if decision.Has(EffectDebit) {
		if err := e.ledger.Debit(ctx, current.OwnerID, current.ID, current.Cost); err != nil {
			log.Error().Err(err).Int64("cost", current.Cost).Msg("reconcile: debit failed")
		}
	}
	return current, nil
}

func (e *Engine) materializeFailed(ctx context.Context, task *domain.Task, token string, cause error, log zerolog.Logger) (*domain.Task, error) {
	detail := storageErrorPrefix + cause.Error()
	attempts, err := e.tasks.ReleaseClaim(ctx, task.ID, token, cause.Error(), e.now())
	if errors.Is(err, domain.ErrNotFound) {
		return e.settled(ctx, task.ID, log)
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: release claim %s: %w", task.ID, err)
	}
	log.Warn().Err(cause).Int("attempts", attempts).Msg("reconcile: materialize failed")
	if attempts >= e.maxAttempts {
		return e.fail(ctx, task, "", detail, log)
	}

	current, err := e.load(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return current, fmt.Errorf("%w: task %s: %v", domain.ErrMaterialize, task.ID, cause)
}

func (e *Engine) fail(ctx context.Context, task *domain.Task, token, detail string, log zerolog.Logger) (*domain.Task, error) {
	now := e.now()
	failed, err := e.tasks.Fail(ctx, task.ID, token, detail, now, now.Add(-e.claimTTL))
	if err != nil {
		return nil, fmt.Errorf("reconcile: fail %s: %w", task.ID, err)
	}
	if !failed {
		return e.settled(ctx, task.ID, log)
	}
	current, err := e.load(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("detail", detail).Msg("reconcile: task failed")
	e.mirror(ctx, current, log, false)
	return current, nil
}

// settled reloads a task after losing a conditional write. A terminal task
// is returned as is; otherwise another delivery is still working on it.
func (e *Engine) settled(ctx context.Context, taskID string, log zerolog.Logger) (*domain.Task, error) {
	current, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		e.mirror(ctx, current, log, true)
		return current, nil
	}
	log.Debug().Msg("reconcile: claim held elsewhere")
	return current, fmt.Errorf("%w: task %s", domain.ErrReconcileInProgress, taskID)
}

// mirror copies a terminal task state onto its image record. Image writes
// only touch pending records, so repeating it is harmless.
func (e *Engine) mirror(ctx context.Context, task *domain.Task, log zerolog.Logger, repair bool) {
	at := e.now()
	if task.CompletedAt != nil {
		at = *task.CompletedAt
	}
	var (
		changed bool
		err     error
	)
	switch task.Status {
	case domain.TaskStatusCompleted:
		changed, err = e.images.MarkCompleted(ctx, task.ID, task.PrimaryReference(), at)
	case domain.TaskStatusFailed:
		changed, err = e.images.MarkFailed(ctx, task.ID, task.ErrorDetail, at)
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("reconcile: image record update failed")
		return
	}
	if changed && repair {
		log.Info().Str("status", string(task.Status)).Msg("reconcile: image record repaired")
	}
}

func (e *Engine) load(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := e.tasks.GetByID(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: load %s: %w", taskID, err)
	}
	return task, nil
}
