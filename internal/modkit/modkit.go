// Package modkit is the seam between the ETL modules and the processes that
// host them. Each module is built from Deps; modules with routes implement
// Module so the API can mount them
package modkit

import (
	"clinicaletl/internal/modkit/repokit"
	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/platform/logger"
	phttp "clinicaletl/internal/platform/net/http"
	"clinicaletl/internal/platform/store"
)

// Deps are what every module is built from
type Deps struct {
	Cfg config.Conf
	PG  repokit.TxRunner
	// Events is nil when no ClickHouse sink is configured
	Events store.EventSink
}

// FromStore builds Deps over an opened store
func FromStore(cfg config.Conf, st *store.Store) Deps {
	return Deps{Cfg: cfg, PG: st.PG, Events: st.Events}
}

// Module is a module that serves HTTP routes
type Module interface {
	Name() string
	MountRoutes(r phttp.Router)
}

// Mount mounts each module in its own route group so middlewares added by
// one module never leak into another
func Mount(r phttp.Router, mods ...Module) {
	for _, m := range mods {
		r.Group(m.MountRoutes)
		logger.Named("api").Debug().Str("module", m.Name()).Msg("api: module mounted")
	}
}
