package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Sync job kinds.
const (
	SyncKindManual      = "manual"
	SyncKindIncremental = "incremental"
	SyncKindScheduled   = "scheduled"
)

// Sync job statuses. Completed, failed and cancelled are terminal.
const (
	SyncStatusPending   = "pending"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
	SyncStatusCancelled = "cancelled"
)

// SyncError is one per-item failure accumulated during a job run.
type SyncError struct {
	WebinarID string    `json:"webinar_id,omitempty"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// SyncJob is one run of the synchronization pipeline for one connection.
type SyncJob struct {
	ID               uuid.UUID       `json:"id"`
	ConnectionID     uuid.UUID       `json:"connection_id"`
	Kind             string          `json:"kind"`
	Status           string          `json:"status"`
	ProgressPct      int             `json:"progress_pct"`
	CurrentOperation string          `json:"current_operation"`
	TotalItems       int             `json:"total_items"`
	ProcessedItems   int             `json:"processed_items"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Errors           []SyncError     `json:"errors"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CancelRequested  bool            `json:"cancel_requested"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *SyncJob) Terminal() bool {
	switch j.Status {
	case SyncStatusCompleted, SyncStatusFailed, SyncStatusCancelled:
		return true
	}
	return false
}
