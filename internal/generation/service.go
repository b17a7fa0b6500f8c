// Package generation implements the user-facing use cases around provider
// tasks: submitting, polling, receiving callbacks and listing history.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"nero/internal/billing"
	"nero/internal/domain"
	"nero/internal/imagegen"
	"nero/internal/reconcile"
)

const (
	maxPromptLength    = 4000
	maxReferenceInputs = 8
	defaultListLimit   = 50
	maxListLimit       = 200

	defaultPollTimeout = 2 * time.Minute

	usageEventCallback = "generation.callback"
	orphanedTaskDetail = "image record not stored"
)

var aspectRatios = map[string]bool{
	"1:1": true, "2:3": true, "3:2": true, "3:4": true, "4:3": true,
	"4:5": true, "5:4": true, "9:16": true, "16:9": true, "21:9": true, "auto": true,
}

// Provider creates and inspects remote generation tasks.
type Provider interface {
	Submit(ctx context.Context, req imagegen.SubmitRequest) (string, error)
	Status(ctx context.Context, taskID string) (domain.Outcome, error)
}

// Reconciler applies an observed outcome to a stored task.
type Reconciler interface {
	Apply(ctx context.Context, d reconcile.Delivery) (*domain.Task, error)
}

// Wallet answers balance questions ahead of a submission.
type Wallet interface {
	CheckBalance(ctx context.Context, userID string, cost int64) error
	Balance(ctx context.Context, userID string) (int64, error)
}

// SubmitInput is a user's generation request.
type SubmitInput struct {
	OwnerID         string
	Kind            domain.TaskKind
	Prompt          string
	ReferenceImages []string
	AspectRatio     string
	Model           string
}

// TaskError attaches the task and operation to an error crossing the
// service boundary.
type TaskError struct {
	TaskID  string
	OwnerID string
	Op      string
	Err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("generation: %s task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

type Dependencies struct {
	Tasks      domain.TaskRepository
	Images     domain.ImageRepository
	Usage      domain.UsageRecorder
	Provider   Provider
	Reconciler Reconciler
	Wallet     Wallet
	Costs      billing.CostTable
	Now        func() time.Time
	Logger     zerolog.Logger

	// PollTimeout bounds one shared provider refresh. Zero means two minutes.
	PollTimeout time.Duration
}

type Service struct {
	tasks      domain.TaskRepository
	images     domain.ImageRepository
	usage      domain.UsageRecorder
	provider   Provider
	reconciler Reconciler
	wallet     Wallet
	costs      billing.CostTable
	now        func() time.Time
	logger     zerolog.Logger

	polls       singleflight.Group
	pollTimeout time.Duration
}

func NewService(deps Dependencies) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	pollTimeout := deps.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Service{
		tasks:      deps.Tasks,
		images:     deps.Images,
		usage:      deps.Usage,
		provider:   deps.Provider,
		reconciler: deps.Reconciler,
		wallet:     deps.Wallet,
		costs:      deps.Costs,
		now:        now,
		logger:     deps.Logger,

		pollTimeout: pollTimeout,
	}
}

// Submit validates the request, checks the owner can pay for it, creates the
// remote task and stores the pending task and image records.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*domain.Task, error) {
	in, err := normalizeSubmit(in)
	if err != nil {
		return nil, err
	}
	cost := s.costs.Cost(in.Kind)
	if err := s.wallet.CheckBalance(ctx, in.OwnerID, cost); err != nil {
		return nil, err
	}

	taskID, err := s.provider.Submit(ctx, imagegen.SubmitRequest{
		Kind:            in.Kind,
		Prompt:          in.Prompt,
		ReferenceImages: in.ReferenceImages,
		AspectRatio:     in.AspectRatio,
		Model:           in.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("generation: submit: %w", err)
	}

	now := s.now().UTC()
	task := &domain.Task{
		ID:              taskID,
		OwnerID:         in.OwnerID,
		Kind:            in.Kind,
		Status:          domain.TaskStatusPending,
		Prompt:          in.Prompt,
		Model:           in.Model,
		AspectRatio:     in.AspectRatio,
		ReferenceInputs: in.ReferenceImages,
		Cost:            cost,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	log := s.logger.With().Str("task_id", taskID).Str("user_id", in.OwnerID).Logger()
	if err := s.tasks.Create(ctx, task); err != nil {
		log.Error().Err(err).Msg("generation: provider task created but not stored")
		return nil, &TaskError{TaskID: taskID, OwnerID: in.OwnerID, Op: "store", Err: err}
	}
	image := &domain.GeneratedImage{
		ID:              uuid.NewString(),
		OwnerID:         in.OwnerID,
		TaskID:          taskID,
		Prompt:          in.Prompt,
		Status:          domain.ImageStatusPending,
		ReferenceInputs: in.ReferenceImages,
		CreatedAt:       now,
	}
	if err := s.images.Create(ctx, image); err != nil {
		log.Error().Err(err).Msg("generation: image record not stored")
		// The caller is told the submission failed, so the task must never
		// complete or be billed.
		failCtx := context.WithoutCancel(ctx)
		if failed, ferr := s.tasks.Fail(failCtx, taskID, "", orphanedTaskDetail, now, now); ferr != nil || !failed {
			log.Error().Err(ferr).Bool("failed", failed).Msg("generation: orphaned task left open")
		}
		return nil, &TaskError{TaskID: taskID, OwnerID: in.OwnerID, Op: "store", Err: err}
	}

	log.Info().Str("kind", string(in.Kind)).Int64("cost", cost).Msg("generation: task submitted")
	return task, nil
}

// Poll returns the requester's task, asking the provider for progress when
// the task is still running. Provider outages leave the task untouched.
func (s *Service) Poll(ctx context.Context, taskID, requesterID string) (*domain.Task, error) {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != requesterID {
		return nil, &TaskError{TaskID: taskID, OwnerID: requesterID, Op: "poll", Err: domain.ErrUnauthorized}
	}
	if task.Status.Terminal() {
		return task, nil
	}

	// Every poller of the task shares one refresh, so it runs detached from
	// the caller that started it; each caller still stops at its own ctx.
	ch := s.polls.DoChan(taskID, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pollTimeout)
		defer cancel()
		return s.refresh(shared, task, reconcile.SourcePoll, requesterID)
	})
	select {
	case <-ctx.Done():
		return nil, &TaskError{TaskID: taskID, OwnerID: requesterID, Op: "poll", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, &TaskError{TaskID: taskID, OwnerID: requesterID, Op: "poll", Err: res.Err}
		}
		out := *res.Val.(*domain.Task)
		return &out, nil
	}
}

// refresh asks the provider about task and reconciles the answer. Errors that
// leave the task recoverable are logged and the latest snapshot is returned.
func (s *Service) refresh(ctx context.Context, task *domain.Task, source reconcile.Source, requesterID string) (*domain.Task, error) {
	log := s.logger.With().Str("task_id", task.ID).Str("source", string(source)).Logger()
	outcome, err := s.provider.Status(ctx, task.ID)
	if err != nil {
		if errors.Is(err, domain.ErrProviderUnavailable) {
			log.Warn().Err(err).Msg("generation: provider unavailable")
		} else {
			log.Error().Err(err).Msg("generation: provider status failed")
		}
		return task, nil
	}

	updated, err := s.reconciler.Apply(ctx, reconcile.Delivery{
		TaskID:      task.ID,
		Outcome:     outcome,
		Source:      source,
		RequesterID: requesterID,
	})
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, domain.ErrReconcileInProgress), errors.Is(err, domain.ErrMaterialize):
		log.Info().Err(err).Msg("generation: task not settled yet")
		if updated != nil {
			return updated, nil
		}
		return task, nil
	default:
		return nil, err
	}
}

// HandleCallback decodes a provider webhook body and applies it. The owner
// is taken from the stored task; authenticity is checked by the caller.
func (s *Service) HandleCallback(ctx context.Context, body []byte) (*domain.Task, error) {
	payload, outcome, err := imagegen.ParseCallback(body)
	if err != nil {
		return nil, err
	}
	taskID := payload.TaskID

	task, err := s.reconciler.Apply(ctx, reconcile.Delivery{
		TaskID:  taskID,
		Outcome: outcome,
		Source:  reconcile.SourceWebhook,
	})
	if task != nil {
		s.recordCallback(ctx, task, payload, outcome)
	}
	if err != nil {
		return task, &TaskError{TaskID: taskID, Op: "callback", Err: err}
	}
	return task, nil
}

func (s *Service) recordCallback(ctx context.Context, task *domain.Task, payload imagegen.CallbackPayload, outcome domain.Outcome) {
	if s.usage == nil {
		return
	}
	event := domain.UsageEvent{
		UserID:    task.OwnerID,
		TaskID:    task.ID,
		EventType: usageEventCallback,
		Success:   outcome.Kind == domain.OutcomeSucceeded,
		Properties: map[string]any{
			"code":    payload.Code,
			"outcome": outcome.Kind.String(),
			"status":  string(task.Status),
		},
	}
	if payload.Msg != "" {
		event.Properties["msg"] = payload.Msg
	}
	if err := s.usage.Record(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("generation: usage event not recorded")
	}
}

// Task returns one of the owner's tasks without contacting the provider.
func (s *Service) Task(ctx context.Context, taskID, ownerID string) (*domain.Task, error) {
	task, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != ownerID {
		return nil, &TaskError{TaskID: taskID, OwnerID: ownerID, Op: "get", Err: domain.ErrUnauthorized}
	}
	return task, nil
}

// ListTasks returns the owner's most recent tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, ownerID string, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	tasks, err := s.tasks.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("generation: list tasks: %w", err)
	}
	return tasks, nil
}

// ListImages returns the owner's image records, newest first.
func (s *Service) ListImages(ctx context.Context, ownerID string, limit int) ([]domain.GeneratedImage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	images, err := s.images.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("generation: list images: %w", err)
	}
	return images, nil
}

// Balance reports the owner's star balance.
func (s *Service) Balance(ctx context.Context, ownerID string) (int64, error) {
	return s.wallet.Balance(ctx, ownerID)
}

func (s *Service) load(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &TaskError{TaskID: taskID, Op: "load", Err: domain.ErrTaskNotFound}
	}
	if err != nil {
		return nil, &TaskError{TaskID: taskID, Op: "load", Err: err}
	}
	return task, nil
}

func normalizeSubmit(in SubmitInput) (SubmitInput, error) {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.AspectRatio = strings.TrimSpace(in.AspectRatio)
	in.Model = strings.TrimSpace(in.Model)

	if in.OwnerID == "" {
		return in, fmt.Errorf("%w: missing owner", domain.ErrUnauthenticated)
	}
	if in.Kind == "" {
		in.Kind = domain.TaskKindTextToImage
		if len(in.ReferenceImages) > 0 {
			in.Kind = domain.TaskKindImageToImage
		}
	}
	if !in.Kind.Valid() {
		return in, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, in.Kind)
	}
	if in.Prompt == "" {
		return in, fmt.Errorf("%w: prompt is required", domain.ErrInvalidInput)
	}
	if len([]rune(in.Prompt)) > maxPromptLength {
		return in, fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrInvalidInput, maxPromptLength)
	}
	if in.AspectRatio == "" {
		in.AspectRatio = "1:1"
	}
	if !aspectRatios[in.AspectRatio] {
		return in, fmt.Errorf("%w: unsupported aspect ratio %q", domain.ErrInvalidInput, in.AspectRatio)
	}

	refs := make([]string, 0, len(in.ReferenceImages))
	for _, raw := range in.ReferenceImages {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return in, fmt.Errorf("%w: reference image %q is not an http(s) url", domain.ErrInvalidInput, raw)
		}
		refs = append(refs, raw)
	}
	if len(refs) > maxReferenceInputs {
		return in, fmt.Errorf("%w: at most %d reference images", domain.ErrInvalidInput, maxReferenceInputs)
	}
	if in.Kind == domain.TaskKindImageToImage && len(refs) == 0 {
		return in, fmt.Errorf("%w: image-to-image needs a reference image", domain.ErrInvalidInput)
	}
	if in.Kind == domain.TaskKindTextToImage && len(refs) > 0 {
		return in, fmt.Errorf("%w: text-to-image takes no reference images", domain.ErrInvalidInput)
	}
	in.ReferenceImages = refs
	return in, nil
}
