package domain

// UsageEvent records a side-tracked action, such as a processed webhook.
// Failing to store one never fails the action itself.
type UsageEvent struct {
	UserID     string
	TaskID     string
	EventType  string
	Success    bool
	Properties map[string]any
}
