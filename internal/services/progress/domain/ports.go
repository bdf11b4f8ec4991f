package domain

import (
	"context"

	conceptdomain "clinicaletl/internal/services/concept/domain"
)

// Repo is the read contract over window and total tables
type Repo interface {
	// Scopes aggregates windows per stage and scope, joined with their
	// expected total snapshot. Percent is left to the service
	Scopes(ctx context.Context) ([]ScopeProgress, error)

	// RowErrors counts row errors per stage
	RowErrors(ctx context.Context) ([]ErrorCount, error)
}

// Trigger starts a run in the background and returns its id. A run already
// in progress is a conflict
type Trigger interface {
	Trigger(ctx context.Context, in RunRequest) (string, error)
}

// Ports is the progress surface served over HTTP
type Ports interface {
	Report(ctx context.Context) (Report, error)
	Stages(ctx context.Context) ([]StageProgress, error)
	Unmapped(ctx context.Context) ([]conceptdomain.UnmappedCount, error)
	Trigger
}
