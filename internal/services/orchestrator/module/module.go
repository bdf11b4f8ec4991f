// Package module wires the orchestrator from shared deps and the stage workers
package module

import (
	"context"
	"time"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/modkit"
	"clinicaletl/internal/platform/backoff"
	"clinicaletl/internal/platform/config"
	checkpointdomain "clinicaletl/internal/services/checkpoint/domain"
	eventsdomain "clinicaletl/internal/services/events/domain"
	"clinicaletl/internal/services/orchestrator/domain"
	"clinicaletl/internal/services/orchestrator/guardrails"
	"clinicaletl/internal/services/orchestrator/service"
	progressdomain "clinicaletl/internal/services/progress/domain"
)

// Options holds orchestrator configuration
type Options struct {
	Parallelism int
	BatchSize   int64
	LeaseName   string
	LeaseTTL    time.Duration
	Retry       backoff.Policy
}

// FromConfig reads options with the CORE_ETL_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_ETL_")
	return Options{
		Parallelism: c.MayInt("PARALLELISM", 4),
		BatchSize:   int64(c.MayInt("BATCH_SIZE", 50000)),
		LeaseName:   c.MayString("LEASE_NAME", "etl"),
		LeaseTTL:    c.MayDuration("LEASE_TTL", 2*time.Minute),
		Retry: backoff.Policy{
			Attempts: c.MayInt("RETRY_ATTEMPTS", 5),
			Base:     c.MayDuration("RETRY_BASE", 500*time.Millisecond),
			Cap:      c.MayDuration("RETRY_CAP", 30*time.Second),
		},
	}
}

// Module implements the orchestrator module
type Module struct {
	svc *service.Service
}

// New constructs the orchestrator guarded by the database run lease.
// ctx bounds runs started through Trigger
func New(
	ctx context.Context,
	deps modkit.Deps,
	p *pipeline.Pipeline,
	cps checkpointdomain.Ports,
	workers domain.Workers,
	sink eventsdomain.Sink,
) *Module {
	opts := FromConfig(deps.Cfg)
	lease := guardrails.NewLease(deps.PG, opts.LeaseName, opts.LeaseTTL)
	svc := service.New(p, cps, workers, lease, sink, service.Config{
		Parallelism: opts.Parallelism,
		BatchSize:   opts.BatchSize,
		Retry:       opts.Retry,
	}).WithBase(ctx)
	return &Module{svc: svc}
}

// Service returns the concrete service
func (m *Module) Service() *service.Service { return m.svc }

// Trigger adapts the orchestrator to the progress API trigger port
func (m *Module) Trigger() progressdomain.Trigger { return trigger{m.svc} }

type trigger struct{ svc *service.Service }

func (t trigger) Trigger(ctx context.Context, req progressdomain.RunRequest) (string, error) {
	return t.svc.Trigger(ctx, domain.Options{
		Force:       req.Force,
		Parallelism: req.Parallelism,
		Steps:       req.Steps,
		BatchSize:   req.BatchSize,
	})
}
