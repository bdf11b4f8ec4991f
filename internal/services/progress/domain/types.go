// Package domain defines the read-only progress view and the run trigger
package domain

import (
	"time"

	checkpointdomain "clinicaletl/internal/services/checkpoint/domain"
	conceptdomain "clinicaletl/internal/services/concept/domain"

	"gopkg.in/guregu/null.v3"
)

// ScopeProgress aggregates the windows of one stage scope. For transform and
// relocate stages the scope is the entity type
type ScopeProgress struct {
	Stage         string    `json:"stage"          example:"observations"`
	Scope         string    `json:"scope"          example:"observation"`
	ExpectedTotal int64     `json:"expected_total" example:"1000000"`
	Processed     int64     `json:"processed"      example:"250000"`
	Inserted      int64     `json:"inserted"`
	Errors        int64     `json:"errors"`
	Gaps          int64     `json:"unmapped"`
	WindowsDone   int64     `json:"windows_done"   example:"5"`
	WindowsTotal  int64     `json:"windows_total"  example:"20"`
	Verified      int64     `json:"windows_verified"`
	Deleted       int64     `json:"windows_deleted"`
	Unverified    int64     `json:"windows_unverified"`
	Percent       float64   `json:"percent"        example:"25"`
	SnapshotAt    null.Time `json:"snapshot_at"`
}

// StageProgress is one declared stage with its checkpoint and scopes
type StageProgress struct {
	Stage         string                  `json:"stage"`
	Status        checkpointdomain.Status `json:"status"`
	StartedAt     null.Time               `json:"started_at"`
	CompletedAt   null.Time               `json:"completed_at"`
	RowsProcessed int64                   `json:"rows_processed"`
	Attempts      int                     `json:"attempts"`
	ErrorMessage  null.String             `json:"error_message"`
	RunID         null.String             `json:"run_id"`
	RowErrors     int64                   `json:"row_errors"`
	Percent       float64                 `json:"percent"`
	Scopes        []ScopeProgress         `json:"scopes"`
}

// Report is the full progress view
type Report struct {
	GeneratedAt time.Time                     `json:"generated_at"`
	Stages      []StageProgress               `json:"stages"`
	Unmapped    []conceptdomain.UnmappedCount `json:"unmapped"`
	Percent     float64                       `json:"percent"`
}

// UnmappedCount is the concept mapper's unmapped report row
type UnmappedCount = conceptdomain.UnmappedCount

// ErrorCount is the number of row errors of a stage
type ErrorCount struct {
	Stage string `json:"stage"`
	Count int64  `json:"count"`
}

// RunRequest triggers a run
type RunRequest struct {
	Steps       []string `json:"steps"       validate:"omitempty,dive,required,ident,max=63"`
	Force       bool     `json:"force"`
	Parallelism int      `json:"parallelism" validate:"gte=0,lte=256"`
	BatchSize   int64    `json:"batch_size"  validate:"gte=0"`
}

// RunAccepted acknowledges a triggered run
type RunAccepted struct {
	RunID string `json:"run_id" example:"5b8f0f5e-3c3b-4d0e-9c43-0a9f1b6d2f11"`
}

// Percent is processed over expected, clamped to [0,100]. An empty snapshot
// is complete
func Percent(processed, expected int64) float64 {
	if expected <= 0 {
		return 100
	}
	p := float64(processed) * 100 / float64(expected)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
