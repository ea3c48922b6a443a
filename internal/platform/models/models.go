package models

// Asset lifecycle statuses.
const (
	AssetStatusDraft      = "draft"
	AssetStatusInReview   = "in_review"
	AssetStatusReady      = "ready"
	AssetStatusScheduled  = "scheduled"
	AssetStatusQueued     = "queued"
	AssetStatusPublishing = "publishing"
	AssetStatusPublished  = "published"
	AssetStatusFailed     = "failed"
	AssetStatusArchived   = "archived"
)

// Destination lifecycle statuses. Each destination moves independently,
// so one asset can be published on one platform and failed on another.
const (
	DestinationStatusDraft      = "draft"
	DestinationStatusReady      = "ready"
	DestinationStatusQueued     = "queued"
	DestinationStatusPublishing = "publishing"
	DestinationStatusPublished  = "published"
	DestinationStatusFailed     = "failed"
	DestinationStatusCancelled  = "cancelled"
)

// Workflow execution statuses. completed, failed and cancelled are terminal.
const (
	ExecutionStatusStarted   = "started"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

type Asset struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Caption     string `json:"caption,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	Status      string `json:"status"`
	CreatedBy   string `json:"created_by,omitempty"`
	ScheduledAt *int64 `json:"scheduled_at,omitempty"`
	PublishedAt *int64 `json:"published_at,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type Destination struct {
	ID             string `json:"id"`
	AssetID        string `json:"asset_id"`
	AccountID      string `json:"account_id"`
	Platform       string `json:"platform"`
	Status         string `json:"status"`
	PlatformPostID string `json:"platform_post_id,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Attempts       int    `json:"attempts"`
	MaxAttempts    int    `json:"max_attempts"`
	NextRetryAt    *int64 `json:"next_retry_at,omitempty"`
	ScheduledAt    *int64 `json:"scheduled_at,omitempty"`
	PublishedAt    *int64 `json:"published_at,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

type SocialAccount struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type WorkflowExecution struct {
	ID           string `json:"id"`
	WorkflowType string `json:"workflow_type"`
	AssetID      string `json:"asset_id"`
	Status       string `json:"status"`
	Input        string `json:"input,omitempty"`
	Output       string `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
	StartedAt    int64  `json:"started_at"`
	CompletedAt  *int64 `json:"completed_at,omitempty"`
	DurationMs   *int64 `json:"duration_ms,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// IsTerminalExecutionStatus reports whether an execution status permits no
// further transitions.
func IsTerminalExecutionStatus(status string) bool {
	switch status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}
