package domain

import (
	"context"
	"time"
)

// TaskRepository persists generation tasks. Every mutating method is a
// conditional write and reports whether the row actually changed, so callers
// on different processes never overwrite each other.
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	GetByID(ctx context.Context, taskID string) (*Task, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Task, error)
	ListUnresolved(ctx context.Context, createdBefore time.Time, limit int) ([]Task, error)

	// MarkProcessing moves pending to processing.
	MarkProcessing(ctx context.Context, taskID string, at time.Time) (bool, error)
	// Claim takes the success branch for token when the task is non-terminal
	// and unclaimed, or its claim is older than staleBefore.
	Claim(ctx context.Context, taskID, token string, at, staleBefore time.Time) (bool, error)
	// Complete stores results and marks the task completed if token still holds the claim.
	Complete(ctx context.Context, taskID, token string, refs []string, at time.Time) (bool, error)
	// ReleaseClaim drops the claim after a failed materialization, stores cause
	// as the storage error and returns the updated attempt counter. The task
	// stays non-terminal and its ErrorDetail is left alone.
	ReleaseClaim(ctx context.Context, taskID, token, cause string, at time.Time) (int, error)
	// Fail marks a non-terminal task failed unless someone other than token
	// holds a live claim.
	Fail(ctx context.Context, taskID, token, detail string, at, staleBefore time.Time) (bool, error)
}

// ImageRepository persists user-facing image records. Mark* only touch
// records that are still pending.
type ImageRepository interface {
	Create(ctx context.Context, image *GeneratedImage) error
	GetByTaskID(ctx context.Context, taskID string) (*GeneratedImage, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]GeneratedImage, error)
	MarkCompleted(ctx context.Context, taskID, reference string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, taskID, detail string, at time.Time) (bool, error)
}

// DebitResult describes what a debit attempt did.
type DebitResult struct {
	// Applied is false when the task had already been debited.
	Applied bool
	// Short is true when the debit was recorded but the balance could not
	// cover it.
	Short   bool
	Balance int64
}

// BalanceRepository mutates per-user star balances atomically.
type BalanceRepository interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID, taskID string, amount int64) (DebitResult, error)
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
}

// UsageRecorder stores side-tracking events.
type UsageRecorder interface {
	Record(ctx context.Context, event UsageEvent) error
}
