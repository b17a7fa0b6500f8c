package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nero/internal/domain"
)

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	CallbackURL string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// Client talks to the generation provider's task API. Transport failures,
// timeouts and 5xx/429 replies are reported as domain.ErrProviderUnavailable
// so callers can leave task state untouched and retry later.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	model       string
	callbackURL string
	timeout     time.Duration
}

func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.kie.ai/api/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "google/nano-banana"
	}
	return &Client{
		httpClient:  client,
		baseURL:     base,
		token:       strings.TrimSpace(opts.APIKey),
		model:       model,
		callbackURL: strings.TrimSpace(opts.CallbackURL),
		timeout:     timeout,
	}
}

// Submit creates a remote task and returns the provider task id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if c == nil {
		return "", errors.New("imagegen: client not configured")
	}
	if c.token == "" {
		return "", errors.New("imagegen: API key is missing")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt required", domain.ErrInvalidInput)
	}
	if req.Kind == domain.TaskKindImageToImage && len(req.ReferenceImages) == 0 {
		return "", fmt.Errorf("%w: image-to-image requires a reference image", domain.ErrInvalidInput)
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	if req.Kind == domain.TaskKindImageToImage && !strings.HasSuffix(model, "-edit") {
		model += "-edit"
	}
	payload := createTaskRequest{
		Model:       model,
		CallBackURL: c.callbackURL,
		Input: createTaskInput{
			Prompt:       prompt,
			ImageURLs:    req.ReferenceImages,
			OutputFormat: "png",
			ImageSize:    strings.TrimSpace(req.AspectRatio),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var out envelope[createTaskData]
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/jobs/createTask", body, &out); err != nil {
		return "", err
	}
	taskID := strings.TrimSpace(out.Data.TaskID)
	if taskID == "" {
		return "", fmt.Errorf("%w: empty task id", domain.ErrProviderFailure)
	}
	return taskID, nil
}

// Status fetches and normalizes the current state of taskID.
func (c *Client) Status(ctx context.Context, taskID string) (domain.Outcome, error) {
	if c == nil {
		return domain.Outcome{}, errors.New("imagegen: client not configured")
	}
	if strings.TrimSpace(taskID) == "" {
		return domain.Outcome{}, fmt.Errorf("%w: task id required", domain.ErrInvalidInput)
	}
	endpoint := c.baseURL + "/jobs/recordInfo?taskId=" + url.QueryEscape(taskID)
	var out envelope[recordInfoData]
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return domain.Outcome{}, err
	}
	return OutcomeFromFlag(out.Data.SuccessFlag, out.Data.ResultURL, out.Data.ResultURLs, out.Data.ErrorMessage)
}

type enveloped interface {
	code() int
	msg() string
}

func (e *envelope[T]) code() int   { return e.Code }
func (e *envelope[T]) msg() string { return e.Msg }

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out enveloped) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%w: http %d", domain.ErrProviderFailure, resp.StatusCode)
		}
		return fmt.Errorf("%w: decode response: %v", domain.ErrProviderFailure, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || out.code() != http.StatusOK {
		if out.code() >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s (%d)", domain.ErrProviderUnavailable, out.msg(), out.code())
		}
		return fmt.Errorf("%w: %s (%d)", domain.ErrProviderFailure, out.msg(), out.code())
	}
	return nil
}
