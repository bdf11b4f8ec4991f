// Package service implements the orchestrator: stages run in dependency
// order under a bounded pool, each one window at a time with a durable
// checkpoint per window
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/platform/backoff"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	ptime "clinicaletl/internal/platform/time"
	checkpointdomain "clinicaletl/internal/services/checkpoint/domain"
	eventsdomain "clinicaletl/internal/services/events/domain"
	"clinicaletl/internal/services/orchestrator/domain"

	"github.com/google/uuid"
)

// Config holds orchestrator defaults
type Config struct {
	Parallelism int            // concurrent stages when a run does not say; <=0 -> 4
	BatchSize   int64          // window size when neither run nor pipeline says; <=0 -> 50000
	Retry       backoff.Policy // per window retry of transient failures
}

// Service implements domain.Ports
type Service struct {
	p       *pipeline.Pipeline
	cps     checkpointdomain.Ports
	workers domain.Workers
	lock    domain.Locker
	sink    eventsdomain.Sink
	cfg     Config
	now     func() time.Time

	forget func()

	running atomic.Bool
	base    context.Context
	bg      sync.WaitGroup
}

var _ domain.Ports = (*Service)(nil)

// New constructs the orchestrator. sink may be nil
func New(
	p *pipeline.Pipeline,
	cps checkpointdomain.Ports,
	workers domain.Workers,
	lock domain.Locker,
	sink eventsdomain.Sink,
	cfg Config,
) *Service {
	if p == nil {
		panic("orchestrator.Service requires a pipeline")
	}
	if cps == nil {
		panic("orchestrator.Service requires a checkpoint store")
	}
	if lock == nil {
		panic("orchestrator.Service requires a Locker")
	}
	if workers.Identity == nil || workers.Concept == nil || workers.Transform == nil || workers.Relocate == nil {
		panic("orchestrator.Service requires a worker for every stage kind")
	}
	if sink == nil {
		sink = eventsdomain.Nop{}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50000
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 5
	}
	return &Service{
		p:       p,
		cps:     cps,
		workers: workers,
		lock:    lock,
		sink:    sink,
		cfg:     cfg,
		now:     ptime.Now,
		base:    context.Background(),
	}
}

// WithClock replaces the time source, for tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithBase sets the context triggered runs execute under. Cancelling it
// stops them at the next window boundary
func (s *Service) WithBase(ctx context.Context) *Service {
	s.base = ctx
	return s
}

// OnReset registers a callback run after a full reset, used to drop caches
// over the wiped mapping tables
func (s *Service) OnReset(fn func()) *Service {
	s.forget = fn
	return s
}

// Pipeline returns the pipeline the service runs
func (s *Service) Pipeline() *pipeline.Pipeline { return s.p }

// Run executes the pipeline and returns once every selected stage reached
// an outcome. A failed run returns its result and a StageFailure error
func (s *Service) Run(ctx context.Context, opts domain.Options) (domain.RunResult, error) {
	release, err := s.claim(ctx)
	if err != nil {
		return domain.RunResult{}, err
	}
	defer release()
	return s.run(ctx, opts)
}

// Trigger starts a run in the background and returns its id. The claim is
// taken before returning so a concurrent trigger gets ErrRunInProgress
func (s *Service) Trigger(ctx context.Context, opts domain.Options) (string, error) {
	if err := s.check(opts); err != nil {
		return "", err
	}
	release, err := s.claim(ctx)
	if err != nil {
		return "", err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer release()
		ctx := logger.WithRequest(s.base, "")
		if _, err := s.run(ctx, opts); err != nil {
			logger.C(logger.WithRun(ctx, opts.RunID)).Error().Err(err).Msg("orchestrator: triggered run failed")
		}
	}()
	return opts.RunID, nil
}

// Wait blocks until triggered runs finish
func (s *Service) Wait() { s.bg.Wait() }

// Running reports whether this process is executing a run
func (s *Service) Running() bool { return s.running.Load() }

// Status lists stage checkpoints
func (s *Service) Status(ctx context.Context) ([]checkpointdomain.Checkpoint, error) {
	return s.cps.List(ctx)
}

// Reset wipes checkpoints, windows, totals, row errors, mappings and the
// checkpoint file
func (s *Service) Reset(ctx context.Context) error {
	release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := s.cps.ResetAll(ctx); err != nil {
		return err
	}
	if s.forget != nil {
		s.forget()
	}
	logger.C(ctx).Warn().Msg("orchestrator: all checkpoints and mappings reset")
	return nil
}

// ResetStage forgets one stage so the next run starts it from scratch
func (s *Service) ResetStage(ctx context.Context, stage string) error {
	if _, ok := s.p.Stage(stage); !ok {
		return perr.WithField(perr.NotFoundf("unknown stage %q", stage), "stage")
	}
	release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := s.cps.ResetStage(ctx, stage); err != nil {
		return err
	}
	logger.C(ctx).Warn().Str("stage", stage).Msg("orchestrator: stage reset")
	return nil
}

// claim takes the in-process flag then the cross-process lock
func (s *Service) claim(ctx context.Context) (func(), error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, domain.ErrRunInProgress
	}
	unlock, err := s.lock.Acquire(ctx)
	if err != nil {
		s.running.Store(false)
		return nil, err
	}
	return func() {
		unlock()
		s.running.Store(false)
	}, nil
}

// check validates run options against the pipeline
func (s *Service) check(opts domain.Options) error {
	for _, name := range opts.Steps {
		if _, ok := s.p.Stage(name); !ok {
			return perr.WithField(perr.InvalidArgf("unknown stage %q", name), "steps")
		}
	}
	if opts.Parallelism < 0 {
		return perr.WithField(perr.InvalidArgf("parallelism must not be negative"), "parallelism")
	}
	if opts.BatchSize < 0 {
		return perr.WithField(perr.InvalidArgf("batch size must not be negative"), "batch_size")
	}
	return nil
}
