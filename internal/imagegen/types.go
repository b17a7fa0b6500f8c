package imagegen

import "nero/internal/domain"

// SubmitRequest describes one generation to create at the provider.
type SubmitRequest struct {
	Kind            domain.TaskKind
	Prompt          string
	ReferenceImages []string
	AspectRatio     string
	Model           string
}

// Provider success flags reported by the status endpoint.
const (
	FlagRunning          = 0
	FlagSuccess          = 1
	FlagSubmitFailed     = 2
	FlagGenerationFailed = 3
)

// Callback codes delivered to the webhook.
const (
	CallbackSuccess          = 200
	CallbackPolicyViolation  = 400
	CallbackInternalError    = 500
	CallbackGenerationFailed = 501
)

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type createTaskInput struct {
	Prompt       string   `json:"prompt"`
	ImageURLs    []string `json:"image_urls,omitempty"`
	OutputFormat string   `json:"output_format"`
	ImageSize    string   `json:"image_size,omitempty"`
}

type createTaskRequest struct {
	Model       string          `json:"model"`
	CallBackURL string          `json:"callBackUrl,omitempty"`
	Input       createTaskInput `json:"input"`
}

type createTaskData struct {
	TaskID string `json:"taskId"`
}

type recordInfoData struct {
	TaskID       string   `json:"taskId"`
	SuccessFlag  int      `json:"successFlag"`
	ResultURL    string   `json:"resultUrl"`
	ResultURLs   []string `json:"resultUrls"`
	ErrorMessage string   `json:"errorMessage"`
}

// CallbackPayload is the body the provider posts to the webhook. The task id
// arrives either at the top level or inside data; ParseCallback resolves it
// into TaskID.
type CallbackPayload struct {
	TaskID string `json:"taskId"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Data   struct {
		TaskID     string   `json:"taskId"`
		ResultURL  string   `json:"resultUrl"`
		ResultURLs []string `json:"resultUrls"`
	} `json:"data"`
}
