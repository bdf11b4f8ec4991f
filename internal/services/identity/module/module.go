// Package module wires the identity mapper from shared deps
package module

import (
	"time"

	"clinicaletl/internal/modkit"
	"clinicaletl/internal/modkit/repokit"
	"clinicaletl/internal/platform/backoff"
	"clinicaletl/internal/platform/config"
	"clinicaletl/internal/services/identity/repo"
	"clinicaletl/internal/services/identity/service"
)

// Options holds identity configuration
type Options struct {
	Retries     int
	RetryBase   time.Duration
	RetryCap    time.Duration
	LockTimeout time.Duration
}

// FromConfig reads options with the CORE_IDENTITY_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_IDENTITY_")
	return Options{
		Retries:     c.MayInt("RETRIES", 5),
		RetryBase:   c.MayDuration("RETRY_BASE", 50*time.Millisecond),
		RetryCap:    c.MayDuration("RETRY_CAP", 2*time.Second),
		LockTimeout: c.MayDuration("LOCK_TIMEOUT", 10*time.Second),
	}
}

// Module implements the identity module
type Module struct {
	svc *service.Service
}

// New constructs the identity module. Counter row waits are bounded by
// LockTimeout so a stuck writer surfaces as a retried transient error
func New(deps modkit.Deps) *Module {
	opts := FromConfig(deps.Cfg)
	var hooks []repokit.BeginHook
	if opts.LockTimeout > 0 {
		hooks = append(hooks, repokit.LockTimeout(opts.LockTimeout))
	}
	svc := service.New(repokit.WithBeginHooks(deps.PG, hooks...), repo.NewPG(), service.Config{
		Retry: backoff.Policy{Attempts: opts.Retries, Base: opts.RetryBase, Cap: opts.RetryCap},
	})
	return &Module{svc: svc}
}

// Service returns the concrete service for stage wiring
func (m *Module) Service() *service.Service { return m.svc }
