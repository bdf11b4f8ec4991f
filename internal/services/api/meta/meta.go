// Package meta serves liveness, readiness and build info for the API
package meta

import (
	"context"
	"net/http"
	"time"

	"clinicaletl/internal/core/version"
	"clinicaletl/internal/modkit"
	phttp "clinicaletl/internal/platform/net/http"
	"clinicaletl/internal/platform/store"
)

var readyTimeout = 2 * time.Second

// Meta answers under /meta
type Meta struct {
	service string
	started time.Time
	pg      any
	events  any
	now     func() time.Time
}

var _ modkit.Module = (*Meta)(nil)

// New builds the meta module for service
func New(service string, deps modkit.Deps) *Meta {
	m := &Meta{service: service, pg: deps.PG, events: deps.Events, now: time.Now}
	m.started = m.now()
	return m
}

// Name implements modkit.Module
func (m *Meta) Name() string { return "meta" }

// MountRoutes implements modkit.Module
func (m *Meta) MountRoutes(r phttp.Router) {
	r.Route("/meta", func(r phttp.Router) {
		phttp.Get(r, "/health", m.health)
		phttp.Get(r, "/ready", m.ready)
		phttp.Get(r, "/version", m.version)
	})
}

// Heartbeat mounts a bare GET /health for load balancers
func (m *Meta) Heartbeat(r phttp.Router) { phttp.Get(r, "/health", m.health) }

// Health is the liveness payload
type Health struct {
	OK      bool   `json:"ok"      example:"true"`
	Service string `json:"service" example:"clinetl-api"`
	Started string `json:"started" example:"2025-09-03T13:00:00Z"`
	Uptime  int64  `json:"uptime"  example:"300"`
}

// Check is one dependency result: ok, fail or skipped
type Check struct {
	Name   string `json:"name"            example:"pg"`
	Status string `json:"status"          example:"ok"`
	Error  string `json:"error,omitempty" example:"dial tcp 127.0.0.1:5432: connect: connection refused"`
}

// Readiness is ok, degraded or fail
type Readiness struct {
	Status string  `json:"status" example:"ok"`
	Checks []Check `json:"checks"`
}

// @Summary Liveness
// @Tags Meta
// @Produce json
// @Success 200 {object} meta.Health "ok"
// @Router /meta/health [get]
func (m *Meta) health(*http.Request) (any, error) {
	return Health{
		OK:      true,
		Service: m.service,
		Started: m.started.UTC().Format(time.RFC3339),
		Uptime:  int64(m.now().Sub(m.started) / time.Second),
	}, nil
}

// @Summary Readiness with dependency checks
// @Tags Meta
// @Produce json
// @Success 200 {object} meta.Readiness "ok"
// @Router /meta/ready [get]
func (m *Meta) ready(r *http.Request) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	pg, ev := ping(ctx, "pg", m.pg), ping(ctx, "events", m.events)

	// the events sink only mirrors run history; losing it degrades
	status := "ok"
	switch {
	case pg.Status == "fail":
		status = "fail"
	case pg.Status != "ok" || ev.Status == "fail":
		status = "degraded"
	}
	return Readiness{Status: status, Checks: []Check{pg, ev}}, nil
}

// @Summary Build info
// @Tags Meta
// @Produce json
// @Success 200 {object} version.BuildInfo "ok"
// @Router /meta/version [get]
func (m *Meta) version(*http.Request) (any, error) { return version.Info(), nil }

func ping(ctx context.Context, name string, dep any) Check {
	p, ok := dep.(store.Pinger)
	if !ok {
		return Check{Name: name, Status: "skipped"}
	}
	if err := p.Ping(ctx); err != nil {
		return Check{Name: name, Status: "fail", Error: err.Error()}
	}
	return Check{Name: name, Status: "ok"}
}
