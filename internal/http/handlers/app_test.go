package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nero/internal/billing"
	"nero/internal/domain"
)

func TestFailStatusMapping(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		errCode string
	}{
		{fmt.Errorf("%w: missing owner", domain.ErrUnauthenticated), http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("%w: task T1", domain.ErrUnauthorized), http.StatusForbidden, "forbidden"},
		{domain.ErrTaskNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: prompt is required", domain.ErrInvalidInput), http.StatusBadRequest, "bad_request"},
		{&billing.InsufficientBalanceError{Required: 2, Available: 1}, http.StatusPaymentRequired, "insufficient_balance"},
		{domain.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	app := &App{Logger: zerolog.Nop()}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		app.fail(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks", nil), tc.err)

		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.errCode, body["error"], tc.err.Error())
	}
}
