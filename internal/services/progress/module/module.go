// Package module wires the progress view and the run trigger into the API
package module

import (
	"clinicaletl/internal/modkit"
	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/platform/logger"
	phttp "clinicaletl/internal/platform/net/http"
	"clinicaletl/internal/platform/net/middleware"
	"clinicaletl/internal/services/progress/domain"
	progresshttp "clinicaletl/internal/services/progress/http"
	"clinicaletl/internal/services/progress/repo"
	"clinicaletl/internal/services/progress/service"
)

// Options holds progress configuration
type Options struct {
	// Operators may trigger runs. Empty leaves POST /runs open
	Operators middleware.Operators
}

// FromConfig reads CORE_API_OPERATOR_TOKENS, a comma separated list of
// operator=token pairs
func FromConfig(cfg config.Conf) Options {
	ops, bad := middleware.ParseOperators(cfg.Prefix("CORE_API_").MayCSV("OPERATOR_TOKENS", nil))
	for _, name := range bad {
		logger.Named("progress").Warn().Str("operator", name).Msg("progress: malformed operator token ignored")
	}
	return Options{Operators: ops}
}

// Module serves /progress and /runs
type Module struct {
	svc  *service.Service
	opts Options
}

var _ modkit.Module = (*Module)(nil)

// New constructs the progress module
func New(
	deps modkit.Deps,
	cps service.Checkpoints,
	concepts service.Unmapper,
	trigger domain.Trigger,
	stages []string,
) *Module {
	return &Module{
		svc:  service.New(deps.PG, repo.NewPG(), cps, concepts, trigger, stages),
		opts: FromConfig(deps.Cfg),
	}
}

// Service returns the concrete service
func (m *Module) Service() *service.Service { return m.svc }

// Name implements modkit.Module
func (m *Module) Name() string { return "progress" }

// MountRoutes implements modkit.Module
func (m *Module) MountRoutes(r phttp.Router) {
	progresshttp.Register(r, m.svc, middleware.RequireOperator(m.opts.Operators))
}
