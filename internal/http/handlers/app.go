// Package handlers exposes the generation service over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"nero/internal/billing"
	"nero/internal/domain"
	"nero/internal/generation"
	"nero/internal/middleware"
)

// Generation is the use-case surface the handlers depend on.
type Generation interface {
	Submit(ctx context.Context, in generation.SubmitInput) (*domain.Task, error)
	Poll(ctx context.Context, taskID, requesterID string) (*domain.Task, error)
	HandleCallback(ctx context.Context, body []byte) (*domain.Task, error)
	ListTasks(ctx context.Context, ownerID string, limit int) ([]domain.Task, error)
	ListImages(ctx context.Context, ownerID string, limit int) ([]domain.GeneratedImage, error)
	Balance(ctx context.Context, ownerID string) (int64, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Generation    Generation
	DB            Pinger
	WebhookSecret string
	Logger        zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]string{"error": errCode, "message": msg})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// fail maps a service error onto a response. Unknown errors are logged and
// hidden behind a generic 500.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *billing.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		a.json(w, http.StatusPaymentRequired, map[string]any{
			"error":     "insufficient_balance",
			"message":   err.Error(),
			"required":  insufficient.Required,
			"available": insufficient.Available,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, domain.ErrUnauthenticated):
		a.error(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusForbidden, "forbidden", "task belongs to another user")
	case errors.Is(err, domain.ErrInsufficientBalance):
		a.error(w, http.StatusPaymentRequired, "insufficient_balance", err.Error())
	case errors.Is(err, domain.ErrProviderUnavailable):
		a.error(w, http.StatusServiceUnavailable, "provider_unavailable", "generation provider is unavailable, try again later")
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusBadGateway, "provider_error", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
