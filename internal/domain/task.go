package domain

import "time"

// TaskKind enumerates supported generation operations.
type TaskKind string

const (
	TaskKindTextToImage  TaskKind = "text-to-image"
	TaskKindImageToImage TaskKind = "image-to-image"
)

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	return k == TaskKindTextToImage || k == TaskKindImageToImage
}

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task tracks one request to the external generation provider. ID is the
// provider-assigned task id and never changes after creation.
type Task struct {
	ID               string
	OwnerID          string
	Kind             TaskKind
	Status           TaskStatus
	Prompt           string
	Model            string
	AspectRatio      string
	ReferenceInputs  []string
	ResultReferences []string
	ErrorDetail      string
	Cost             int64

	// Claim fields guard the success branch: only the holder of ClaimToken
	// may materialize and complete the task.
	ClaimToken          string
	ClaimedAt           *time.Time
	MaterializeAttempts int
	// StorageError is the cause of the last failed result download.
	StorageError string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// CostBearing reports whether a successful completion debits the owner.
func (t Task) CostBearing() bool {
	return t.Cost > 0
}

// PrimaryReference returns the first stored result reference, if any.
func (t Task) PrimaryReference() string {
	if len(t.ResultReferences) == 0 {
		return ""
	}
	return t.ResultReferences[0]
}
