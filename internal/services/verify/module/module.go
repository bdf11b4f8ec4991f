// Package module wires verify and safe-delete from shared deps
package module

import (
	"clinicaletl/internal/modkit"
	"clinicaletl/internal/modkit/repokit"
	checkpointdomain "clinicaletl/internal/services/checkpoint/domain"
	transformdomain "clinicaletl/internal/services/transform/domain"
	"clinicaletl/internal/services/verify/repo"
	"clinicaletl/internal/services/verify/service"
)

// Module implements the verify module
type Module struct {
	svc *service.Service
}

// New constructs the verify module. ledger is the checkpoint window ledger
func New(deps modkit.Deps, ledger repokit.Binder[checkpointdomain.WindowLedger], transform transformdomain.Ports) *Module {
	svc := service.New(deps.PG, repo.NewPG(), ledger, transform)
	return &Module{svc: svc}
}

// Service returns the concrete service
func (m *Module) Service() *service.Service { return m.svc }
