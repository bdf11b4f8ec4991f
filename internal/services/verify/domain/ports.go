// Package domain defines the verify and safe-delete contracts of relocate stages
package domain

import (
	"context"

	"clinicaletl/internal/core/derive"
	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	perr "clinicaletl/internal/platform/errors"
	transformdomain "clinicaletl/internal/services/transform/domain"
)

// ErrUnverified marks a window whose verified count differs from its
// migrated count. Nothing was deleted
var ErrUnverified = perr.New(perr.ErrorCodeIntegrity, "window unverified")

// IsUnverified reports whether err is ErrUnverified, with or without an op label
func IsUnverified(err error) bool {
	e, ok := perr.As(err)
	return ok && e.Code() == perr.ErrorCodeIntegrity && e.Error() == ErrUnverified.Error()
}

// Outcome is the end state of one relocate window
type Outcome string

// Relocate outcomes
const (
	OutcomeDeleted    Outcome = "deleted"
	OutcomeUnverified Outcome = "unverified"
)

// Result reports one relocate window
type Result struct {
	Window   window.Window `json:"window"`
	Counts   window.Counts `json:"counts"`
	Outcome  Outcome       `json:"outcome"`
	Migrated int64         `json:"migrated"`
	Verified int64         `json:"verified"`
	Deleted  int64         `json:"deleted"`
}

// Repo is the storage contract, bound to one transaction
type Repo interface {
	// Targets returns target rows by source key, each column rendered with
	// derive.SelectExpr
	Targets(ctx context.Context, t transformdomain.Target, sourceKeys []string, cols map[string]derive.Kind) (map[string]map[string]*string, error)

	// DeleteSource removes source rows by ordering key
	DeleteSource(ctx context.Context, src pipeline.Source, keys []int64) (int64, error)
}

// Ports is the relocate surface used by the orchestrator
type Ports interface {
	Migrate(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (window.Counts, error)
	Verify(ctx context.Context, st *pipeline.Stage, w window.Window) (window.Window, error)
	DeleteIfVerified(ctx context.Context, st *pipeline.Stage, w window.Window) (int64, error)
	Relocate(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (Result, error)
}
