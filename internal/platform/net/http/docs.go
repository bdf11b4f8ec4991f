package http

import (
	stdhttp "net/http"

	perr "clinicaletl/internal/platform/errors"

	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag/v2"
)

// readDoc is swapped in tests
var readDoc = func(instance string) (string, error) { return swag.ReadDoc(instance) }

// MountDocs serves the OpenAPI document registered under instance at
// /api/docs/doc.json and the swagger UI beside it
func MountDocs(r Router, instance string) {
	r.Get("/api/docs", func(w stdhttp.ResponseWriter, req *stdhttp.Request) {
		stdhttp.Redirect(w, req, "/api/docs/", stdhttp.StatusPermanentRedirect)
	})
	r.Get("/api/docs/doc.json", func(w stdhttp.ResponseWriter, req *stdhttp.Request) {
		doc, err := readDoc(instance)
		if err != nil {
			Write(w, req, Error(perr.Wrapf(err, perr.ErrorCodeNotFound, "docs: %s is not registered", instance)))
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(doc))
	})
	r.Handle("/api/docs/*", httpSwagger.Handler(httpSwagger.URL("/api/docs/doc.json")))
}

// MountProfiler exposes pprof under /debug
func MountProfiler(r Router) {
	r.Mount("/debug", chimw.Profiler())
}
