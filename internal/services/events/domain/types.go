// Package domain defines run events: stage and window transitions emitted by
// the orchestrator for offline analysis
package domain

import (
	"context"
	"time"

	"clinicaletl/internal/core/window"
)

// Kind names an event
type Kind string

// Event kinds
const (
	KindRunStarted    Kind = "run_started"
	KindRunFinished   Kind = "run_finished"
	KindStageStarted  Kind = "stage_started"
	KindStageFinished Kind = "stage_finished"
	KindWindow        Kind = "window"
)

// Event is one row of the event stream
type Event struct {
	At       time.Time
	RunID    string
	Kind     Kind
	Stage    string
	Scope    string
	Status   string
	WindowID int64
	Range    window.Range
	Counts   window.Counts
	Duration time.Duration
	Message  string
}

// Sink receives events. Emit never fails the caller; Flush reports what
// could not be delivered
type Sink interface {
	Emit(ctx context.Context, e Event)
	Flush(ctx context.Context) error
}

// Repo stores event batches
type Repo interface {
	EnsureTable(ctx context.Context) error
	Insert(ctx context.Context, es []Event) error
}

// Nop discards events
type Nop struct{}

// Emit implements Sink
func (Nop) Emit(context.Context, Event) {}

// Flush implements Sink
func (Nop) Flush(context.Context) error { return nil }
