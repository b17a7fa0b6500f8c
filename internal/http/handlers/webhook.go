package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"nero/internal/domain"
)

const (
	signatureHeader = "X-Signature"
	maxWebhookBody  = 256 << 10
)

// GenerationWebhook receives provider callbacks. The body must be signed
// with the shared webhook secret.
func (a *App) GenerationWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read body")
		return
	}
	if len(body) > maxWebhookBody {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "payload too large")
		return
	}
	if !validSignature(a.WebhookSecret, body, r.Header.Get(signatureHeader)) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}

	task, err := a.Generation.HandleCallback(r.Context(), body)
	switch {
	case err == nil:
		a.json(w, http.StatusOK, map[string]string{"status": "ok", "task_id": task.ID, "task_status": string(task.Status)})
	case errors.Is(err, domain.ErrReconcileInProgress):
		a.json(w, http.StatusAccepted, map[string]string{"status": "processing"})
	case errors.Is(err, domain.ErrMaterialize):
		// Non-2xx so the provider redelivers; the claim is already released.
		a.Logger.Warn().Err(err).Msg("webhook: result not stored yet")
		a.error(w, http.StatusServiceUnavailable, "storage_unavailable", "result could not be stored, retry later")
	default:
		a.fail(w, r, err)
	}
}

// SignPayload returns the hex HMAC-SHA256 of body under secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(SignPayload(secret, body))
	return hmac.Equal(got, want)
}
