package repokit

import (
	"context"
	"time"

	perr "clinicaletl/internal/platform/errors"
)

// Guarder pings the backends behind a store
type Guarder interface {
	Guard(context.Context) error
}

// guardTimeout applies when ctx has no deadline of its own
var guardTimeout = 5 * time.Second

// Guard checks every backend before a run or the API starts. Any failure is
// reported as Unavailable
func Guard(ctx context.Context, g Guarder) error {
	if g == nil {
		return perr.Newf(perr.ErrorCodeUnavailable, "guard: no store")
	}
	if _, ok := ctx.Deadline(); !ok {
		c, cancel := context.WithTimeout(ctx, guardTimeout)
		defer cancel()
		ctx = c
	}
	if err := g.Guard(ctx); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "guard: backend not ready")
	}
	return nil
}
