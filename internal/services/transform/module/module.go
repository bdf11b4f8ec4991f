// Package module wires the batch transformer from shared deps
package module

import (
	"time"

	"clinicaletl/internal/modkit"
	"clinicaletl/internal/platform/config"
	conceptdomain "clinicaletl/internal/services/concept/domain"
	identdomain "clinicaletl/internal/services/identity/domain"
	"clinicaletl/internal/services/transform/repo"
	"clinicaletl/internal/services/transform/service"
)

// Options holds transform configuration
type Options struct {
	PageSize int
}

// FromConfig reads options with the CORE_TRANSFORM_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_TRANSFORM_")
	return Options{PageSize: c.MayInt("PAGE_SIZE", 5000)}
}

// Module implements the transform module
type Module struct {
	svc *service.Service
}

// New constructs the transform module over the identity and concept read
// ports. loc is the pipeline timezone
func New(deps modkit.Deps, idents identdomain.ReadPort, concepts conceptdomain.ReadPort, loc *time.Location) *Module {
	opts := FromConfig(deps.Cfg)
	svc := service.New(deps.PG, repo.NewPG(), idents, concepts, service.Config{
		PageSize: opts.PageSize,
		Location: loc,
	})
	return &Module{svc: svc}
}

// Service returns the concrete service for stage wiring
func (m *Module) Service() *service.Service { return m.svc }
