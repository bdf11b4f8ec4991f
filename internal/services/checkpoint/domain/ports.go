package domain

import (
	"context"
	"time"

	"clinicaletl/internal/core/window"
)

// WindowLedger moves the flags and counters of persisted windows. Calls run
// inside the window transaction they describe
type WindowLedger interface {
	// MarkProcessed flags w processed with its counts and advances the stage
	// checkpoint's last window and row total
	MarkProcessed(ctx context.Context, w window.Window, c window.Counts) error

	// RecordVerified stores the verified count and sets verified when it
	// equals the migrated count
	RecordVerified(ctx context.Context, id, verified int64) (window.Window, error)

	// MarkDeleted flags the window deleted with the number of rows removed
	MarkDeleted(ctx context.Context, id, deleted int64) error

	// MarkUnverified flags a window whose counts disagree
	MarkUnverified(ctx context.Context, id int64) error

	// Window loads one window
	Window(ctx context.Context, id int64) (window.Window, error)
}

// Repo is the storage contract for checkpoints and windows
type Repo interface {
	WindowLedger

	Get(ctx context.Context, stage string) (Checkpoint, bool, error)
	List(ctx context.Context) ([]Checkpoint, error)

	// Seed inserts a completed checkpoint unless the stage has a row
	Seed(ctx context.Context, stage string, at time.Time) error

	// Start moves the stage to in_progress, bumping attempts
	Start(ctx context.Context, stage, runID string, at time.Time) (Checkpoint, error)
	Complete(ctx context.Context, stage string, at time.Time) error
	Fail(ctx context.Context, stage, msg string, at time.Time) error

	Total(ctx context.Context, stage, scope string) (Total, bool, error)
	SnapshotTotal(ctx context.Context, t Total) error
	CreateWindows(ctx context.Context, stage, scope string, rs []window.Range) (int64, error)
	Windows(ctx context.Context, stage, scope string) ([]window.Window, error)

	// ClearWindows drops windows and totals of a stage
	ClearWindows(ctx context.Context, stage string) error

	// ResetStage drops the checkpoint, windows, totals and row errors of a stage
	ResetStage(ctx context.Context, stage string) error

	// ResetAll wipes every control table and the mapping tables
	ResetAll(ctx context.Context) error
}

// Ports is the checkpoint surface used by the orchestrator and reporters
type Ports interface {
	IsCompleted(ctx context.Context, stage string) (bool, error)
	Get(ctx context.Context, stage string) (Checkpoint, bool, error)
	List(ctx context.Context) ([]Checkpoint, error)
	Begin(ctx context.Context, stage, runID string, force bool) (Checkpoint, error)
	Complete(ctx context.Context, stage string) error
	Fail(ctx context.Context, stage, msg string) error
	Plan(ctx context.Context, stage, scope string, size int64, extent func(context.Context) (window.Extent, error)) ([]window.Window, Total, error)
	Processed(w window.Window) window.Hook
	LastWindow(ctx context.Context, stage string) (window.Window, bool, error)
	ResetStage(ctx context.Context, stage string) error
	ResetAll(ctx context.Context) error
}
