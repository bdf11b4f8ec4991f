// Package domain defines orchestrator runs, stage outcomes and the worker
// contracts stages are executed through
package domain

import (
	"time"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	perr "clinicaletl/internal/platform/errors"
)

// ErrRunInProgress is returned when another run holds the runner
var ErrRunInProgress = perr.New(perr.ErrorCodeConflict, "a run is already in progress")

// Options tune one run
type Options struct {
	Force       bool     `json:"force"`
	Parallelism int      `json:"parallelism"`
	Steps       []string `json:"steps,omitempty"`
	BatchSize   int64    `json:"batch_size"`
	RunID       string   `json:"run_id,omitempty"`
}

// Outcome is how a stage ended in a run
type Outcome string

// Stage outcomes
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeCancelled Outcome = "cancelled"
)

// Ok reports whether the outcome lets dependents run
func (o Outcome) Ok() bool { return o == OutcomeCompleted || o == OutcomeSkipped }

// StageResult reports one stage
type StageResult struct {
	Name       string        `json:"name"`
	Index      int           `json:"index"`
	Kind       pipeline.Kind `json:"kind"`
	Outcome    Outcome       `json:"outcome"`
	Windows    int           `json:"windows"`
	Counts     window.Counts `json:"counts"`
	Unverified int           `json:"unverified_windows"`
	Error      string        `json:"error,omitempty"`
	LastWindow string        `json:"last_window,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Status is the overall result of a run
type Status string

// Run statuses
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Failure names the stage a failed run is reported under
type Failure struct {
	Stage      string `json:"stage"`
	Index      int    `json:"index"`
	Message    string `json:"message"`
	LastWindow string `json:"last_window,omitempty"`
}

// RunResult reports one run
type RunResult struct {
	RunID      string        `json:"run_id"`
	Status     Status        `json:"status"`
	Stages     []StageResult `json:"stages"`
	Failure    *Failure      `json:"failure,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Stage returns the result of one stage
func (r RunResult) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}
