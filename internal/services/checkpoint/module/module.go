// Package module wires the checkpoint store from shared deps
package module

import (
	"clinicaletl/internal/modkit"
	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/services/checkpoint/repo"
	"clinicaletl/internal/services/checkpoint/service"
)

// Options holds checkpoint configuration
type Options struct {
	File string
}

// FromConfig reads options with the CORE_ETL_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_ETL_")
	return Options{File: c.MayString("CHECKPOINT_FILE", ".etl-checkpoints.yaml")}
}

// Module implements the checkpoint module
type Module struct {
	svc *service.Service
}

// New constructs the checkpoint module, loading the checkpoint file
func New(deps modkit.Deps) (*Module, error) {
	opts := FromConfig(deps.Cfg)
	f, err := service.OpenFile(opts.File)
	if err != nil {
		return nil, err
	}
	svc := service.New(deps.PG, repo.NewPG(), f)
	return &Module{svc: svc}, nil
}

// Service returns the concrete service
func (m *Module) Service() *service.Service { return m.svc }
