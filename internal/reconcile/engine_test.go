package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nero/internal/adapter/memstore"
	"nero/internal/billing"
	"nero/internal/domain"
)

const (
	owner    = "user-1"
	taskID   = "T1"
	cdnImage = "https://cdn.example/out.png"
)

type fakeFetcher struct {
	calls atomic.Int32
	delay time.Duration
	// failures is how many calls fail before the fetcher starts succeeding;
	// negative fails forever.
	failures int32
}

func (f *fakeFetcher) Materialize(_ context.Context, remoteURL, folder string) (string, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failures < 0 || n <= f.failures {
		return "", errors.New("disk full")
	}
	name := remoteURL[strings.LastIndex(remoteURL, "/")+1:]
	return fmt.Sprintf("/uploads/%s/%d-%s", folder, n, name), nil
}

type fixture struct {
	store   *memstore.Store
	fetcher *fakeFetcher
	engine  *Engine
	now     time.Time
}

func newFixture(t *testing.T, cost int64, fetcher *fakeFetcher) *fixture {
	t.Helper()
	store := memstore.New()
	store.SetBalance(owner, 5)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, store.Tasks().Create(ctx, &domain.Task{
		ID:        taskID,
		OwnerID:   owner,
		Kind:      domain.TaskKindTextToImage,
		Status:    domain.TaskStatusPending,
		Prompt:    "a cat",
		Cost:      cost,
		CreatedAt: now,
	}))
	require.NoError(t, store.Images().Create(ctx, &domain.GeneratedImage{
		ID:        "img-1",
		OwnerID:   owner,
		TaskID:    taskID,
		Prompt:    "a cat",
		Status:    domain.ImageStatusPending,
		CreatedAt: now,
	}))
	if fetcher == nil {
		fetcher = &fakeFetcher{}
	}
	ledger := billing.NewLedger(store.Balances(), zerolog.Nop())
	engine := NewEngine(store.Tasks(), store.Images(), fetcher, ledger, Options{
		Folder:                 "nero/generated",
		MaxMaterializeAttempts: 2,
		SettleWait:             2 * time.Second,
		Now:                    func() time.Time { return now },
		Logger:                 zerolog.Nop(),
	})
	return &fixture{store: store, fetcher: fetcher, engine: engine, now: now}
}

func (f *fixture) task(t *testing.T) *domain.Task {
	t.Helper()
	task, err := f.store.Tasks().GetByID(context.Background(), taskID)
	require.NoError(t, err)
	return task
}

func (f *fixture) image(t *testing.T) *domain.GeneratedImage {
	t.Helper()
	img, err := f.store.Images().GetByTaskID(context.Background(), taskID)
	require.NoError(t, err)
	return img
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.store.Balances().Balance(context.Background(), owner)
	require.NoError(t, err)
	return b
}

func webhook(o domain.Outcome) Delivery {
	return Delivery{TaskID: taskID, Outcome: o, Source: SourceWebhook}
}

func poll(o domain.Outcome, requester string) Delivery {
	return Delivery{TaskID: taskID, Outcome: o, Source: SourcePoll, RequesterID: requester}
}

func TestApplyHappyPath(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()

	task, err := f.engine.Apply(ctx, poll(domain.StillRunning(), owner))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, task.Status)

	task, err = f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	require.Len(t, task.ResultReferences, 1)
	assert.True(t, strings.HasPrefix(task.ResultReferences[0], "/uploads/nero/generated/"))
	assert.Empty(t, task.ClaimToken)
	require.NotNil(t, task.CompletedAt)

	img := f.image(t)
	assert.Equal(t, domain.ImageStatusCompleted, img.Status)
	assert.Equal(t, task.ResultReferences[0], img.ImageReference)
	assert.Equal(t, int64(4), f.balance(t))
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
}

func TestApplyMaterializesSecondaryResults(t *testing.T) {
	f := newFixture(t, 0, nil)
	task, err := f.engine.Apply(context.Background(),
		webhook(domain.Succeeded(cdnImage, "https://cdn.example/alt.png")))
	require.NoError(t, err)
	require.Len(t, task.ResultReferences, 2)
	assert.True(t, strings.HasSuffix(task.ResultReferences[0], "out.png"))
	assert.True(t, strings.HasSuffix(task.ResultReferences[1], "alt.png"))
	assert.Equal(t, task.ResultReferences[0], f.image(t).ImageReference)
}

func TestApplyContentPolicyFailure(t *testing.T) {
	f := newFixture(t, 1, nil)

	task, err := f.engine.Apply(context.Background(),
		webhook(domain.FailedTerminal("Content policy violation: nsfw")))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Equal(t, "Content policy violation: nsfw", task.ErrorDetail)

	img := f.image(t)
	assert.Equal(t, domain.ImageStatusFailed, img.Status)
	assert.Equal(t, "Content policy violation: nsfw", img.ErrorDetail)
	assert.Equal(t, int64(5), f.balance(t))
	assert.Zero(t, f.fetcher.calls.Load())
}

func TestApplyDuplicateWebhook(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()

	first, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)
	second, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)

	assert.Equal(t, first.ResultReferences, second.ResultReferences)
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
	assert.Equal(t, int64(4), f.balance(t))
}

func TestApplyNeverLeavesTerminalState(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()

	done, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)

	for _, o := range []domain.Outcome{
		domain.StillRunning(),
		domain.FailedTerminal("late failure"),
		domain.FailedTransient("late transient"),
		domain.Succeeded("https://cdn.example/other.png"),
	} {
		task, err := f.engine.Apply(ctx, webhook(o))
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, task.Status)
		assert.Equal(t, done.ResultReferences, task.ResultReferences)
		assert.Empty(t, task.ErrorDetail)
	}
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
	assert.Equal(t, int64(4), f.balance(t))
}

func TestApplyFailedTaskIgnoresLateSuccess(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, webhook(domain.FailedTerminal("Generation failed: x")))
	require.NoError(t, err)
	task, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Zero(t, f.fetcher.calls.Load())
	assert.Equal(t, int64(5), f.balance(t))
}

func TestApplyConcurrentDeliveriesDebitOnce(t *testing.T) {
	f := newFixture(t, 2, &fakeFetcher{delay: 20 * time.Millisecond})
	ctx := context.Background()

	const n = 24
	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]*domain.Task, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := webhook(domain.Succeeded(cdnImage))
			if i%2 == 1 {
				d = poll(domain.Succeeded(cdnImage), owner)
			}
			results[i], errs[i] = f.engine.Apply(ctx, d)
		}(i)
	}
	wg.Wait()

	task := f.task(t)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	for i := range results {
		require.NoError(t, errs[i], "delivery %d", i)
		assert.Equal(t, domain.TaskStatusCompleted, results[i].Status, "delivery %d", i)
		assert.Equal(t, task.ResultReferences, results[i].ResultReferences, "delivery %d", i)
	}
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
	assert.Equal(t, int64(3), f.balance(t))
	debited, ok := f.store.Debits(taskID)
	assert.True(t, ok)
	assert.Equal(t, int64(2), debited)
	assert.Equal(t, task.PrimaryReference(), f.image(t).ImageReference)
}

func TestApplyWebhookAndPollRaceConverge(t *testing.T) {
	f := newFixture(t, 1, &fakeFetcher{delay: 10 * time.Millisecond})
	ctx := context.Background()

	deliveries := []Delivery{
		webhook(domain.Succeeded(cdnImage)),
		poll(domain.Succeeded(cdnImage), owner),
	}
	results := make([]*domain.Task, len(deliveries))
	errs := make([]error, len(deliveries))
	var wg sync.WaitGroup
	for i, d := range deliveries {
		wg.Add(1)
		go func(i int, d Delivery) {
			defer wg.Done()
			results[i], errs[i] = f.engine.Apply(ctx, d)
		}(i, d)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, domain.TaskStatusCompleted, results[0].Status)
	assert.Equal(t, results[0].Status, results[1].Status)
	assert.Equal(t, results[0].ResultReferences, results[1].ResultReferences)
	assert.NotEmpty(t, results[0].ResultReferences)
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
	assert.Equal(t, int64(4), f.balance(t))
}

func TestApplyRejectsForeignPoller(t *testing.T) {
	f := newFixture(t, 1, nil)

	task, err := f.engine.Apply(context.Background(), poll(domain.Succeeded(cdnImage), "intruder"))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Nil(t, task)

	stored := f.task(t)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.Zero(t, f.fetcher.calls.Load())
	assert.Equal(t, int64(5), f.balance(t))
}

func TestApplyUnknownTask(t *testing.T) {
	f := newFixture(t, 1, nil)
	_, err := f.engine.Apply(context.Background(), Delivery{
		TaskID:  "missing",
		Outcome: domain.Succeeded(cdnImage),
		Source:  SourceWebhook,
	})
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestApplyRetriesAfterMaterializeFailure(t *testing.T) {
	f := newFixture(t, 1, &fakeFetcher{failures: 1})
	ctx := context.Background()

	task, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.ErrorIs(t, err, domain.ErrMaterialize)
	require.NotNil(t, task)
	assert.False(t, task.Status.Terminal())
	assert.Empty(t, task.ClaimToken)
	assert.Equal(t, 1, task.MaterializeAttempts)
	assert.Empty(t, task.ErrorDetail, "error detail is only set once the task fails")
	assert.Equal(t, "disk full", task.StorageError)
	assert.Equal(t, int64(5), f.balance(t))

	task, err = f.engine.Apply(ctx, poll(domain.Succeeded(cdnImage), owner))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Empty(t, task.ErrorDetail)
	assert.Equal(t, int64(4), f.balance(t))
	assert.Equal(t, domain.ImageStatusCompleted, f.image(t).Status)
}

func TestApplyGivesUpAfterMaxMaterializeAttempts(t *testing.T) {
	f := newFixture(t, 1, &fakeFetcher{failures: -1})
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.ErrorIs(t, err, domain.ErrMaterialize)

	task, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Equal(t, "post-success storage error: disk full", task.ErrorDetail)

	img := f.image(t)
	assert.Equal(t, domain.ImageStatusFailed, img.Status)
	assert.Equal(t, int64(5), f.balance(t))
	_, debited := f.store.Debits(taskID)
	assert.False(t, debited)
}

func TestApplyDefersToLiveClaim(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.engine.settleWait = 30 * time.Millisecond
	ctx := context.Background()
	ok, err := f.store.Tasks().Claim(ctx, taskID, "other-worker", f.now, f.now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	task, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	assert.ErrorIs(t, err, domain.ErrReconcileInProgress)
	require.NotNil(t, task)
	assert.Equal(t, "other-worker", task.ClaimToken)
	assert.Zero(t, f.fetcher.calls.Load())

	_, err = f.engine.Apply(ctx, webhook(domain.FailedTerminal("late")))
	assert.ErrorIs(t, err, domain.ErrReconcileInProgress)
	assert.Equal(t, domain.TaskStatusPending, f.task(t).Status)
}

func TestApplyTakesOverStaleClaim(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()
	crashedAt := f.now.Add(-10 * time.Minute)
	ok, err := f.store.Tasks().Claim(ctx, taskID, "crashed-worker", crashedAt, crashedAt.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	task, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
	assert.Equal(t, int64(4), f.balance(t))
}

func TestApplyRepairsLaggingImageRecord(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()
	tasks := f.store.Tasks()

	// Complete the task behind the engine's back, leaving the image pending.
	ok, err := tasks.Claim(ctx, taskID, "tok", f.now, f.now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = tasks.Complete(ctx, taskID, "tok", []string{"/uploads/nero/generated/a.png"}, f.now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.ImageStatusPending, f.image(t).Status)

	_, err = f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)

	img := f.image(t)
	assert.Equal(t, domain.ImageStatusCompleted, img.Status)
	assert.Equal(t, "/uploads/nero/generated/a.png", img.ImageReference)
	assert.Zero(t, f.fetcher.calls.Load())
}

func TestApplyShortBalanceStillCompletes(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.store.SetBalance(owner, 0)

	task, err := f.engine.Apply(context.Background(), webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, int64(0), f.balance(t))
}

func TestApplySuccessWithoutResultFails(t *testing.T) {
	f := newFixture(t, 1, nil)

	task, err := f.engine.Apply(context.Background(), webhook(domain.Outcome{Kind: domain.OutcomeSucceeded}))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Equal(t, int64(5), f.balance(t))
}

func TestApplyWaitsForClaimHolder(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()
	tasks := f.store.Tasks()
	ok, err := tasks.Claim(ctx, taskID, "other-worker", f.now, f.now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = tasks.Complete(ctx, taskID, "other-worker", []string{"/uploads/nero/generated/held.png"}, f.now)
	}()

	task, err := f.engine.Apply(ctx, poll(domain.Succeeded(cdnImage), owner))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, []string{"/uploads/nero/generated/held.png"}, task.ResultReferences)
	assert.Zero(t, f.fetcher.calls.Load())
}

func TestApplyTakesOverReleasedClaim(t *testing.T) {
	f := newFixture(t, 1, nil)
	ctx := context.Background()
	tasks := f.store.Tasks()
	ok, err := tasks.Claim(ctx, taskID, "other-worker", f.now, f.now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = tasks.ReleaseClaim(ctx, taskID, "other-worker", "disk full", f.now)
	}()

	task, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
	assert.Equal(t, int64(4), f.balance(t))
}

func TestApplyStopsWaitingWhenContextEnds(t *testing.T) {
	f := newFixture(t, 1, nil)
	ok, err := f.store.Tasks().Claim(context.Background(), taskID, "other-worker", f.now, f.now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	start := time.Now()
	task, err := f.engine.Apply(ctx, webhook(domain.Succeeded(cdnImage)))
	assert.ErrorIs(t, err, domain.ErrReconcileInProgress)
	require.NotNil(t, task)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Less(t, time.Since(start), time.Second)
}
