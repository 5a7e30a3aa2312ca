package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task status enums.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// Try-on categories.
const (
	CategoryEyewear   = "eyewear"
	CategoryOutfit    = "outfit"
	CategoryFootwear  = "footwear"
	CategoryAccessory = "accessory"
)

var categoryAliases = map[string]string{
	CategoryEyewear:   CategoryEyewear,
	"glasses":         CategoryEyewear,
	CategoryOutfit:    CategoryOutfit,
	CategoryFootwear:  CategoryFootwear,
	"shoes":           CategoryFootwear,
	CategoryAccessory: CategoryAccessory,
	"accessories":     CategoryAccessory,
}

// ParseCategory maps a client-supplied category (case-insensitive, legacy
// names accepted) to its canonical value.
func ParseCategory(s string) (string, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// IsTerminalStatus reports whether no further transitions are allowed.
func IsTerminalStatus(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusFailed
}

// TaskMetadata is persisted as JSONB alongside the task.
type TaskMetadata struct {
	Provider          string `json:"provider,omitempty"`
	IsAsync           bool   `json:"is_async"`
	ProviderTaskID    string `json:"provider_task_id,omitempty"`
	Description       string `json:"description,omitempty"`
	OriginalResultURL string `json:"original_result_url,omitempty"`
	ResultObjectKey   string `json:"result_object_key,omitempty"`
	GenerationMs      int64  `json:"generation_ms,omitempty"`
}

type Task struct {
	ID             uuid.UUID    `json:"id"`
	UserID         uuid.UUID    `json:"user_id"`
	Category       string       `json:"category"`
	UserImageURL   string       `json:"user_image_url"`
	ItemImageURL   string       `json:"item_image_url"`
	Prompt         string       `json:"prompt,omitempty"`
	Status         string       `json:"status"`
	Progress       int          `json:"progress"`
	ResultImageURL *string      `json:"result_image_url,omitempty"`
	ErrorMessage   *string      `json:"error_message,omitempty"`
	Metadata       TaskMetadata `json:"metadata"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// IsTerminal reports whether the task reached completed or failed.
func (t *Task) IsTerminal() bool { return IsTerminalStatus(t.Status) }
