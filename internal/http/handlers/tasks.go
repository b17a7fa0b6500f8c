package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"nero/internal/domain"
	"nero/internal/generation"
)

const maxSubmitBody = 1 << 20

type submitRequest struct {
	Kind            string   `json:"kind"`
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images"`
	AspectRatio     string   `json:"aspect_ratio"`
	Model           string   `json:"model"`
}

type taskResponse struct {
	TaskID           string     `json:"task_id"`
	Kind             string     `json:"kind"`
	Status           string     `json:"status"`
	Prompt           string     `json:"prompt"`
	AspectRatio      string     `json:"aspect_ratio,omitempty"`
	Model            string     `json:"model,omitempty"`
	ReferenceInputs  []string   `json:"reference_inputs"`
	ResultReferences []string   `json:"result_references"`
	ImageURL         string     `json:"image_url,omitempty"`
	Error            string     `json:"error,omitempty"`
	Cost             int64      `json:"cost"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func toTaskResponse(t *domain.Task) taskResponse {
	resp := taskResponse{
		TaskID:           t.ID,
		Kind:             string(t.Kind),
		Status:           string(t.Status),
		Prompt:           t.Prompt,
		AspectRatio:      t.AspectRatio,
		Model:            t.Model,
		ReferenceInputs:  t.ReferenceInputs,
		ResultReferences: t.ResultReferences,
		ImageURL:         t.PrimaryReference(),
		Cost:             t.Cost,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
	}
	if t.Status == domain.TaskStatusFailed {
		resp.Error = t.ErrorDetail
	}
	if resp.ReferenceInputs == nil {
		resp.ReferenceInputs = []string{}
	}
	if resp.ResultReferences == nil {
		resp.ResultReferences = []string{}
	}
	return resp
}

func (a *App) SubmitTask(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	task, err := a.Generation.Submit(r.Context(), generation.SubmitInput{
		OwnerID:         userID,
		Kind:            domain.TaskKind(req.Kind),
		Prompt:          req.Prompt,
		ReferenceImages: req.ReferenceImages,
		AspectRatio:     req.AspectRatio,
		Model:           req.Model,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toTaskResponse(task))
}

// TaskStatus polls the provider for a running task and returns its state.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task_id required")
		return
	}
	task, err := a.Generation.Poll(r.Context(), taskID, userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toTaskResponse(task))
}

func (a *App) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
		return
	}
	tasks, err := a.Generation.ListTasks(r.Context(), userID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		items = append(items, toTaskResponse(&tasks[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

type imageResponse struct {
	ID              string     `json:"id"`
	TaskID          string     `json:"task_id,omitempty"`
	Prompt          string     `json:"prompt"`
	Status          string     `json:"status"`
	ImageURL        string     `json:"image_url,omitempty"`
	ReferenceInputs []string   `json:"reference_inputs"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (a *App) ListImages(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
		return
	}
	images, err := a.Generation.ListImages(r.Context(), userID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]imageResponse, 0, len(images))
	for _, img := range images {
		refs := img.ReferenceInputs
		if refs == nil {
			refs = []string{}
		}
		items = append(items, imageResponse{
			ID:              img.ID,
			TaskID:          img.TaskID,
			Prompt:          img.Prompt,
			Status:          string(img.Status),
			ImageURL:        img.ImageReference,
			ReferenceInputs: refs,
			Error:           img.ErrorDetail,
			CreatedAt:       img.CreatedAt,
			CompletedAt:     img.CompletedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) Balance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Generation.Balance(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]int64{"stars": balance})
}

var errBadLimit = errors.New("bad limit")

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errBadLimit
	}
	return n, nil
}
