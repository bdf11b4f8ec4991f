// Package http provides http transport for progress
package http

import (
	stdhttp "net/http"

	"clinicaletl/internal/platform/logger"
	phttp "clinicaletl/internal/platform/net/http"
	"clinicaletl/internal/platform/net/http/bind"
	"clinicaletl/internal/platform/net/middleware"
	"clinicaletl/internal/services/progress/domain"
)

var triggerBody = bind.Options{MaxBytes: 1 << 16, DisallowUnknown: true, AllowEmptyBody: true}

// Register mounts progress endpoints. guard wraps the run trigger only
func Register(r phttp.Router, s domain.Ports, guard func(stdhttp.Handler) stdhttp.Handler) {
	h := &handlers{svc: s}

	phttp.Get(r, "/progress", h.report)
	phttp.Get(r, "/progress/stages", h.stages)
	phttp.Get(r, "/progress/unmapped", h.unmapped)

	r.With(guard).Post("/runs", phttp.Handle(h.trigger))
}

type handlers struct{ svc domain.Ports }

// @Summary Full progress report
// @Tags Progress
// @Produce json
// @Success 200 {object} domain.Report "ok"
// @Router /progress [get]
func (h *handlers) report(r *stdhttp.Request) (any, error) {
	return h.svc.Report(r.Context())
}

// @Summary Per-stage progress with per-entity counters
// @Tags Progress
// @Produce json
// @Success 200 {array} domain.StageProgress "ok"
// @Router /progress/stages [get]
func (h *handlers) stages(r *stdhttp.Request) (any, error) {
	return h.svc.Stages(r.Context())
}

// @Summary Unmapped code counts per vocabulary and domain
// @Tags Progress
// @Produce json
// @Success 200 {array} domain.UnmappedCount "ok"
// @Router /progress/unmapped [get]
func (h *handlers) unmapped(r *stdhttp.Request) (any, error) {
	return h.svc.Unmapped(r.Context())
}

// @Summary Trigger a run
// @Tags Runs
// @Accept json
// @Produce json
// @Param payload body domain.RunRequest false "Run options"
// @Success 202 {object} domain.RunAccepted "accepted"
// @Failure 401 {object} phttp.Envelope "missing or unknown operator token"
// @Failure 409 {object} phttp.Envelope "run in progress"
// @Router /runs [post]
func (h *handlers) trigger(r *stdhttp.Request) phttp.Response {
	in, err := bind.ParseJSON[domain.RunRequest](r, triggerBody)
	if err != nil {
		return phttp.Error(err)
	}
	id, err := h.svc.Trigger(r.Context(), in)
	if err != nil {
		return phttp.Error(err)
	}
	logger.C(r.Context()).Info().
		Str("operator", middleware.Operator(r.Context())).
		Str("run_id", id).
		Msg("progress: run triggered")
	return phttp.Accepted(domain.RunAccepted{RunID: id})
}
