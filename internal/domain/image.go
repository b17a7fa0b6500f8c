package domain

import "time"

// ImageStatus enumerates states of the user-facing image record.
type ImageStatus string

const (
	ImageStatusPending   ImageStatus = "pending"
	ImageStatusCompleted ImageStatus = "completed"
	ImageStatusFailed    ImageStatus = "failed"
)

// GeneratedImage is the user-visible record of a generated artifact. TaskID
// is empty for synchronous generations that never created a task.
type GeneratedImage struct {
	ID              string
	OwnerID         string
	TaskID          string
	Prompt          string
	Status          ImageStatus
	ImageReference  string
	ReferenceInputs []string
	ErrorDetail     string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// ImageStatusFor maps a terminal task status onto the image record status.
func ImageStatusFor(s TaskStatus) ImageStatus {
	switch s {
	case TaskStatusCompleted:
		return ImageStatusCompleted
	case TaskStatusFailed:
		return ImageStatusFailed
	default:
		return ImageStatusPending
	}
}
