// Package api assembles the HTTP surface of the ETL: meta endpoints, the
// progress view and run trigger, docs and the profiler
package api

import (
	"clinicaletl/internal/modkit"
	"clinicaletl/internal/platform/config"
	phttp "clinicaletl/internal/platform/net/http"
	"clinicaletl/internal/platform/net/middleware"
	"clinicaletl/internal/services/api/docs"
	"clinicaletl/internal/services/api/meta"
)

// Options are the API options
type Options struct {
	// Config is the CORE_API_ view
	Config config.Conf
	Deps   modkit.Deps
	// Routes are the ETL modules to expose under /api/v1
	Routes []modkit.Module
}

// Handler builds the routed API
func Handler(opt Options) phttp.Router {
	r := phttp.NewRouter()
	r.Use(middleware.Stack(middleware.FromConfig(opt.Config))...)

	m := meta.New("clinetl-api", opt.Deps)
	m.Heartbeat(r)

	r.Route("/api/v1", func(v1 phttp.Router) {
		modkit.Mount(v1, append([]modkit.Module{m}, opt.Routes...)...)
	})
	if opt.Config.MayBool("SWAGGER", true) {
		phttp.MountDocs(r, docs.Instance)
	}
	if opt.Config.MayBool("PROFILER", false) {
		phttp.MountProfiler(r)
	}
	return r
}
