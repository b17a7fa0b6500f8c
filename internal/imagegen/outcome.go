package imagegen

import (
	"encoding/json"
	"fmt"
	"strings"

	"nero/internal/domain"
)

// OutcomeFromFlag normalizes a status-endpoint reply.
func OutcomeFromFlag(flag int, resultURL string, resultURLs []string, errorMessage string) (domain.Outcome, error) {
	switch flag {
	case FlagRunning:
		return domain.StillRunning(), nil
	case FlagSuccess:
		// An empty success is passed on; reconciliation fails the task.
		primary, secondary := splitResults(resultURL, resultURLs)
		return domain.Succeeded(primary, secondary...), nil
	case FlagSubmitFailed:
		return domain.FailedTerminal(withMessage("Submission failed", errorMessage)), nil
	case FlagGenerationFailed:
		return domain.FailedTerminal(withMessage("Generation failed", errorMessage)), nil
	default:
		return domain.Outcome{}, fmt.Errorf("%w: unknown success flag %d", domain.ErrProviderFailure, flag)
	}
}

// OutcomeFromCallback normalizes a webhook code.
func OutcomeFromCallback(code int, msg, resultURL string, resultURLs []string) (domain.Outcome, error) {
	switch code {
	case CallbackSuccess:
		primary, secondary := splitResults(resultURL, resultURLs)
		return domain.Succeeded(primary, secondary...), nil
	case CallbackPolicyViolation:
		return domain.FailedTerminal(withMessage("Content policy violation", msg)), nil
	case CallbackInternalError:
		return domain.FailedTransient(withMessage("Internal provider error", msg)), nil
	case CallbackGenerationFailed:
		return domain.FailedTerminal(withMessage("Generation failed", msg)), nil
	default:
		return domain.Outcome{}, fmt.Errorf("%w: unknown callback code %d", domain.ErrInvalidInput, code)
	}
}

// ParseCallback decodes a webhook body and normalizes its outcome.
func ParseCallback(body []byte) (CallbackPayload, domain.Outcome, error) {
	var payload CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, domain.Outcome{}, fmt.Errorf("%w: decode callback: %v", domain.ErrInvalidInput, err)
	}
	if id := strings.TrimSpace(payload.Data.TaskID); id != "" {
		payload.TaskID = id
	}
	payload.TaskID = strings.TrimSpace(payload.TaskID)
	payload.Data.TaskID = payload.TaskID
	if payload.TaskID == "" {
		return payload, domain.Outcome{}, fmt.Errorf("%w: callback missing taskId", domain.ErrInvalidInput)
	}
	outcome, err := OutcomeFromCallback(payload.Code, payload.Msg, payload.Data.ResultURL, payload.Data.ResultURLs)
	if err != nil {
		return payload, domain.Outcome{}, err
	}
	return payload, outcome, nil
}

// splitResults picks the first non-empty url as primary and keeps the rest
// in order, without duplicates of the primary.
func splitResults(resultURL string, resultURLs []string) (string, []string) {
	primary := strings.TrimSpace(resultURL)
	var secondary []string
	for _, u := range resultURLs {
		u = strings.TrimSpace(u)
		if u == "" || u == primary {
			continue
		}
		if primary == "" {
			primary = u
			continue
		}
		secondary = append(secondary, u)
	}
	return primary, secondary
}

func withMessage(prefix, msg string) string {
	if msg = strings.TrimSpace(msg); msg == "" {
		return prefix
	}
	return prefix + ": " + msg
}
