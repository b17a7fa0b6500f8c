// Package memstore keeps tasks, images and balances in process memory. It
// backs STORE_DRIVER=memory for local development and doubles as the test
// store; its conditional writes mirror the SQL in sqlinline.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"nero/internal/domain"
)

type Store struct {
	mu       sync.Mutex
	tasks    map[string]*domain.Task
	images   map[string]*domain.GeneratedImage
	balances map[string]int64
	debits   map[string]int64
	usage    []domain.UsageEvent
}

func New() *Store {
	return &Store{
		tasks:    make(map[string]*domain.Task),
		images:   make(map[string]*domain.GeneratedImage),
		balances: make(map[string]int64),
		debits:   make(map[string]int64),
	}
}

func (s *Store) Tasks() domain.TaskRepository { return taskRepo{s} }

func (s *Store) Images() domain.ImageRepository { return imageRepo{s} }

func (s *Store) Balances() domain.BalanceRepository { return balanceRepo{s} }

func (s *Store) Usage() domain.UsageRecorder { return usageRepo{s} }

// SetBalance seeds a user's balance.
func (s *Store) SetBalance(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

// Debits returns how many stars were recorded against taskID.
func (s *Store) Debits(taskID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amount, ok := s.debits[taskID]
	return amount, ok
}

// UsageEvents returns a copy of the recorded usage events.
func (s *Store) UsageEvents() []domain.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UsageEvent(nil), s.usage...)
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.ReferenceInputs = append([]string(nil), t.ReferenceInputs...)
	c.ResultReferences = append([]string(nil), t.ResultReferences...)
	if t.ClaimedAt != nil {
		at := *t.ClaimedAt
		c.ClaimedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func cloneImage(img *domain.GeneratedImage) *domain.GeneratedImage {
	c := *img
	c.ReferenceInputs = append([]string(nil), img.ReferenceInputs...)
	if img.CompletedAt != nil {
		at := *img.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

type taskRepo struct{ s *Store }

func (r taskRepo) Create(_ context.Context, task *domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[task.ID]; ok {
		return domain.ErrDuplicateOperation
	}
	c := cloneTask(task)
	c.UpdatedAt = c.CreatedAt
	r.s.tasks[task.ID] = c
	return nil
}

func (r taskRepo) GetByID(_ context.Context, taskID string) (*domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

func (r taskRepo) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Task
	for _, t := range r.s.tasks {
		if t.OwnerID == ownerID {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r taskRepo) ListUnresolved(_ context.Context, createdBefore time.Time, limit int) ([]domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Task
	for _, t := range r.s.tasks {
		if !t.Status.Terminal() && t.CreatedAt.Before(createdBefore) {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r taskRepo) MarkProcessing(_ context.Context, taskID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.Status != domain.TaskStatusPending {
		return false, nil
	}
	t.Status = domain.TaskStatusProcessing
	t.UpdatedAt = at
	return true, nil
}

func (r taskRepo) Claim(_ context.Context, taskID, token string, at, staleBefore time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.Status.Terminal() {
		return false, nil
	}
	if t.ClaimToken != "" && !t.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	claimedAt := at
	t.ClaimToken = token
	t.ClaimedAt = &claimedAt
	t.UpdatedAt = at
	return true, nil
}

func (r taskRepo) Complete(_ context.Context, taskID, token string, refs []string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.Status.Terminal() || token == "" || t.ClaimToken != token {
		return false, nil
	}
	completedAt := at
	t.Status = domain.TaskStatusCompleted
	t.ResultReferences = append([]string(nil), refs...)
	t.ErrorDetail = ""
	t.ClaimToken = ""
	t.ClaimedAt = nil
	t.CompletedAt = &completedAt
	t.UpdatedAt = at
	return true, nil
}

func (r taskRepo) ReleaseClaim(_ context.Context, taskID, token, cause string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || token == "" || t.ClaimToken != token {
		return 0, domain.ErrNotFound
	}
	t.ClaimToken = ""
	t.ClaimedAt = nil
	t.MaterializeAttempts++
	t.StorageError = cause
	t.UpdatedAt = at
	return t.MaterializeAttempts, nil
}

func (r taskRepo) Fail(_ context.Context, taskID, token, detail string, at, staleBefore time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.Status.Terminal() {
		return false, nil
	}
	if t.ClaimToken != "" && t.ClaimToken != token && !t.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	completedAt := at
	t.Status = domain.TaskStatusFailed
	t.ErrorDetail = detail
	t.ClaimToken = ""
	t.ClaimedAt = nil
	t.CompletedAt = &completedAt
	t.UpdatedAt = at
	return true, nil
}

type imageRepo struct{ s *Store }

func (r imageRepo) Create(_ context.Context, image *domain.GeneratedImage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if image.TaskID != "" {
		for _, existing := range r.s.images {
			if existing.TaskID == image.TaskID {
				return domain.ErrDuplicateOperation
			}
		}
	}
	r.s.images[image.ID] = cloneImage(image)
	return nil
}

func (r imageRepo) GetByTaskID(_ context.Context, taskID string) (*domain.GeneratedImage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if img := r.byTask(taskID); img != nil {
		return cloneImage(img), nil
	}
	return nil, domain.ErrNotFound
}

func (r imageRepo) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.GeneratedImage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.GeneratedImage
	for _, img := range r.s.images {
		if img.OwnerID == ownerID {
			out = append(out, *cloneImage(img))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r imageRepo) MarkCompleted(_ context.Context, taskID, reference string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	img := r.byTask(taskID)
	if img == nil || img.Status != domain.ImageStatusPending {
		return false, nil
	}
	completedAt := at
	img.Status = domain.ImageStatusCompleted
	img.ImageReference = reference
	img.ErrorDetail = ""
	img.CompletedAt = &completedAt
	return true, nil
}

func (r imageRepo) MarkFailed(_ context.Context, taskID, detail string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	img := r.byTask(taskID)
	if img == nil || img.Status != domain.ImageStatusPending {
		return false, nil
	}
	completedAt := at
	img.Status = domain.ImageStatusFailed
	img.ErrorDetail = detail
	img.CompletedAt = &completedAt
	return true, nil
}

// byTask must be called with the store lock held.
func (r imageRepo) byTask(taskID string) *domain.GeneratedImage {
	if taskID == "" {
		return nil
	}
	for _, img := range r.s.images {
		if img.TaskID == taskID {
			return img
		}
	}
	return nil
}

type balanceRepo struct{ s *Store }

func (r balanceRepo) Balance(_ context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	balance, ok := r.s.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return balance, nil
}

func (r balanceRepo) Debit(_ context.Context, userID, taskID string, amount int64) (domain.DebitResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.debits[taskID]; ok {
		return domain.DebitResult{Applied: false}, nil
	}
	r.s.debits[taskID] = amount
	balance := r.s.balances[userID]
	if balance < amount {
		return domain.DebitResult{Applied: true, Short: true, Balance: balance}, nil
	}
	balance -= amount
	r.s.balances[userID] = balance
	return domain.DebitResult{Applied: true, Balance: balance}, nil
}

func (r balanceRepo) Credit(_ context.Context, userID string, amount int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.balances[userID] += amount
	return r.s.balances[userID], nil
}

type usageRepo struct{ s *Store }

func (r usageRepo) Record(_ context.Context, event domain.UsageEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.usage = append(r.s.usage, event)
	return nil
}
