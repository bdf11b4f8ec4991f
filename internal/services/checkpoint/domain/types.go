// Package domain defines stage checkpoints, window ledgers and their ports
package domain

import (
	"time"

	"clinicaletl/internal/core/window"

	"gopkg.in/guregu/null.v3"
)

// Status is the lifecycle state of a stage
type Status string

// Stage statuses
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Checkpoint is the durable state of one stage
type Checkpoint struct {
	Stage         string      `json:"stage"`
	Status        Status      `json:"status"`
	StartedAt     null.Time   `json:"started_at"`
	CompletedAt   null.Time   `json:"completed_at"`
	RowsProcessed int64       `json:"rows_processed"`
	ErrorMessage  null.String `json:"error_message"`
	Attempts      int         `json:"attempts"`
	LastWindowID  null.Int    `json:"last_window_id"`
	RunID         null.String `json:"run_id"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Total is the expected row count and key range of a scope, taken once when
// its stage first starts
type Total struct {
	Stage string `json:"stage"`
	Scope string `json:"scope"`
	window.Extent
	SnapshotAt time.Time `json:"snapshot_at"`
}

// CanStart reports whether a stage in status from may move to in_progress.
// A stage left in_progress by a crashed run resumes
func CanStart(from Status, force bool) bool {
	switch from {
	case "", StatusPending, StatusFailed, StatusInProgress:
		return true
	case StatusCompleted:
		return force
	default:
		return false
	}
}

// FileEntry is one stage in the checkpoint file
type FileEntry struct {
	Completed bool      `yaml:"completed"`
	Timestamp time.Time `yaml:"timestamp"`
}
