// Package etl assembles the ETL modules over one store and pipeline
package etl

import (
	"context"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/modkit"
	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/platform/store"

	checkpointmod "clinicaletl/internal/services/checkpoint/module"
	conceptmod "clinicaletl/internal/services/concept/module"
	eventsdomain "clinicaletl/internal/services/events/domain"
	eventsmod "clinicaletl/internal/services/events/module"
	identitymod "clinicaletl/internal/services/identity/module"
	orchdomain "clinicaletl/internal/services/orchestrator/domain"
	orchmod "clinicaletl/internal/services/orchestrator/module"
	progressmod "clinicaletl/internal/services/progress/module"
	transformmod "clinicaletl/internal/services/transform/module"
	verifymod "clinicaletl/internal/services/verify/module"
)

// Options are the assembly inputs
type Options struct {
	Config   config.Conf
	Store    *store.Store
	Pipeline *pipeline.Pipeline

	// Base bounds runs started through the progress API
	Base context.Context
}

// App holds the wired modules
type App struct {
	Pipeline     *pipeline.Pipeline
	Checkpoints  *checkpointmod.Module
	Identity     *identitymod.Module
	Concept      *conceptmod.Module
	Transform    *transformmod.Module
	Verify       *verifymod.Module
	Orchestrator *orchmod.Module
	Progress     *progressmod.Module
	Events       eventsdomain.Sink
}

// Open wires every module and seeds checkpoints from the checkpoint file
func Open(ctx context.Context, opt Options) (*App, error) {
	deps := modkit.FromStore(opt.Config, opt.Store)
	base := opt.Base
	if base == nil {
		base = context.Background()
	}

	loc, err := opt.Pipeline.Location()
	if err != nil {
		return nil, err
	}

	cps, err := checkpointmod.New(deps)
	if err != nil {
		return nil, err
	}
	if err := cps.Service().SeedFromFile(ctx); err != nil {
		return nil, err
	}

	ids := identitymod.New(deps)
	concepts := conceptmod.New(deps)
	tr := transformmod.New(deps, ids.Service(), concepts.Service(), loc)
	ver := verifymod.New(deps, cps.Service().Ledger(), tr.Service())

	sink, err := eventsmod.New(ctx, deps)
	if err != nil {
		return nil, err
	}

	orch := orchmod.New(base, deps, opt.Pipeline, cps.Service(), orchdomain.Workers{
		Identity:  ids.Service(),
		Concept:   concepts.Service(),
		Transform: tr.Service(),
		Relocate:  ver.Service(),
		Targets:   tr.Service(),
	}, sink)
	orch.Service().OnReset(concepts.Service().Forget)

	prog := progressmod.New(deps, cps.Service(), concepts.Service(), orch.Trigger(), opt.Pipeline.Names())

	return &App{
		Pipeline:     opt.Pipeline,
		Checkpoints:  cps,
		Identity:     ids,
		Concept:      concepts,
		Transform:    tr,
		Verify:       ver,
		Orchestrator: orch,
		Progress:     prog,
		Events:       sink,
	}, nil
}

// Routes lists the modules that serve HTTP
func (a *App) Routes() []modkit.Module {
	return []modkit.Module{a.Progress}
}
