// Package module wires the run event sink from shared deps
package module

import (
	"context"

	"clinicaletl/internal/modkit"
	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/services/events/domain"
	"clinicaletl/internal/services/events/repo"
	"clinicaletl/internal/services/events/service"
)

// Options holds event sink configuration
type Options struct {
	Enabled bool
	Table   string
	Batch   int
}

// FromConfig reads options with the CORE_EVENTS_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_EVENTS_")
	return Options{
		Enabled: c.MayBool("ENABLED", true),
		Table:   c.MayString("TABLE", "etl_events"),
		Batch:   c.MayInt("BATCH", 256),
	}
}

// New returns the configured sink. Without ClickHouse, or when disabled,
// events are discarded
func New(ctx context.Context, deps modkit.Deps) (domain.Sink, error) {
	opts := FromConfig(deps.Cfg)
	if !opts.Enabled || deps.Events == nil {
		return domain.Nop{}, nil
	}
	r := repo.NewCH(deps.Events, opts.Table)
	if err := r.EnsureTable(ctx); err != nil {
		return nil, err
	}
	return service.New(r, service.Config{Batch: opts.Batch}), nil
}
