package domain

import (
	"context"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	checkpointdomain "clinicaletl/internal/services/checkpoint/domain"
	verifydomain "clinicaletl/internal/services/verify/domain"
)

// Worker runs the windows of one stage kind
type Worker interface {
	Extent(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope) (window.Extent, error)
	Window(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (window.Counts, error)
}

// Relocator runs migrate, verify and delete for one relocate window
type Relocator interface {
	Relocate(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (verifydomain.Result, error)
}

// TargetEnsurer creates target tables before a stage writes to them
type TargetEnsurer interface {
	EnsureTarget(ctx context.Context, st *pipeline.Stage) error
}

// Workers groups the per-kind workers. Transform also plans relocate scopes
type Workers struct {
	Identity  Worker
	Concept   Worker
	Transform Worker
	Relocate  Relocator
	Targets   TargetEnsurer
}

// Locker guards against concurrent runners. release must be called once
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Ports is the orchestrator surface used by the CLI and the progress API
type Ports interface {
	Run(ctx context.Context, opts Options) (RunResult, error)
	Trigger(ctx context.Context, opts Options) (string, error)
	Status(ctx context.Context) ([]checkpointdomain.Checkpoint, error)
	Reset(ctx context.Context) error
	ResetStage(ctx context.Context, stage string) error
}
