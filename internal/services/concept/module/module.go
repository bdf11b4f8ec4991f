// Package module wires the concept mapper from shared deps
package module

import (
	"clinicaletl/internal/modkit"
	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/services/concept/repo"
	"clinicaletl/internal/services/concept/service"
)

// Options holds concept configuration
type Options struct {
	CacheSize int
}

// FromConfig reads options with the CORE_CONCEPT_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_CONCEPT_")
	return Options{CacheSize: c.MayInt("CACHE_SIZE", 100_000)}
}

// Module implements the concept module
type Module struct {
	svc *service.Service
}

// New constructs the concept module
func New(deps modkit.Deps) *Module {
	opts := FromConfig(deps.Cfg)
	svc := service.New(deps.PG, repo.NewPG(), service.Config{CacheSize: opts.CacheSize})
	return &Module{svc: svc}
}

// Service returns the concrete service for stage wiring
func (m *Module) Service() *service.Service { return m.svc }
