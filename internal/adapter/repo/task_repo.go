package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"nero/internal/domain"
	"nero/internal/infra"
	"nero/internal/sqlinline"
)

// TaskRepositoryPG implements domain.TaskRepository on PostgreSQL. All
// transitions are single conditional UPDATEs so concurrent webhook and poll
// deliveries linearize on the row.
type TaskRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewTaskRepository creates a new task repository backed by PostgreSQL.
func NewTaskRepository(sql infra.SQLExecutor) *TaskRepositoryPG {
	return &TaskRepositoryPG{sql: sql}
}

// Create inserts a new task record.
func (r *TaskRepositoryPG) Create(ctx context.Context, task *domain.Task) error {
	refs := task.ReferenceInputs
	if refs == nil {
		refs = []string{}
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertTask,
		task.ID,
		task.OwnerID,
		string(task.Kind),
		string(task.Status),
		task.Prompt,
		task.Model,
		task.AspectRatio,
		refs,
		task.Cost,
		task.CreatedAt,
	)
	return mapInsertError(err)
}

// GetByID fetches a task by its provider task id.
func (r *TaskRepositoryPG) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	return scanTask(r.sql.QueryRow(ctx, sqlinline.QSelectTask, taskID))
}

func (r *TaskRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Task, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListTasksByOwner, ownerID, limit)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func (r *TaskRepositoryPG) ListUnresolved(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Task, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListUnresolvedTasks, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func (r *TaskRepositoryPG) MarkProcessing(ctx context.Context, taskID string, at time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkTaskProcessing, taskID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepositoryPG) Claim(ctx context.Context, taskID, token string, at, staleBefore time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QClaimTask, taskID, token, at, staleBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepositoryPG) Complete(ctx context.Context, taskID, token string, refs []string, at time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QCompleteTask, taskID, token, refs, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseClaim records cause as the task's storage error and returns
// domain.ErrNotFound when token no longer holds the claim.
func (r *TaskRepositoryPG) ReleaseClaim(ctx context.Context, taskID, token, cause string, at time.Time) (int, error) {
	var attempts int
	err := r.sql.QueryRow(ctx, sqlinline.QReleaseTaskClaim, taskID, token, cause, at).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (r *TaskRepositoryPG) Fail(ctx context.Context, taskID, token, detail string, at, staleBefore time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailTask, taskID, token, detail, at, staleBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		t      domain.Task
		kind   string
		status string
	)
	if err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&kind,
		&status,
		&t.Prompt,
		&t.Model,
		&t.AspectRatio,
		&t.ReferenceInputs,
		&t.ResultReferences,
		&t.ErrorDetail,
		&t.Cost,
		&t.ClaimToken,
		&t.ClaimedAt,
		&t.MaterializeAttempts,
		&t.StorageError,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	t.Kind = domain.TaskKind(kind)
	t.Status = domain.TaskStatus(status)
	return &t, nil
}
