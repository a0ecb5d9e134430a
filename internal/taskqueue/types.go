package taskqueue

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusClaimed    TaskStatus = "claimed"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// TaskTypeOfferChanged carries one ranking.OfferChange as its payload.
const TaskTypeOfferChanged = "offer_changed"

type Task struct {
	ID           string          `db:"id" json:"id"`
	TaskType     string          `db:"task_type" json:"taskType"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Priority     int             `db:"priority" json:"priority"`
	Status       TaskStatus      `db:"status" json:"status"`
	ScheduledFor time.Time       `db:"scheduled_for" json:"scheduledFor"`
	StartedAt    *time.Time      `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	FailedAt     *time.Time      `db:"failed_at" json:"failedAt,omitempty"`
	WorkerID     *string         `db:"worker_id" json:"workerId,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retryCount"`
	MaxRetries   int             `db:"max_retries" json:"maxRetries"`
	ErrorMessage *string         `db:"error_message" json:"errorMessage,omitempty"`
	Result       json.RawMessage `db:"result" json:"result,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updatedAt"`
}

type ClaimedTask struct {
	ID         string          `db:"id"`
	TaskType   string          `db:"task_type"`
	Payload    json.RawMessage `db:"payload"`
	RetryCount int             `db:"retry_count"`
}
