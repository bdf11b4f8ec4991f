// Package service builds the progress view from checkpoints, window
// aggregates and the unmapped code report
package service

import (
	"context"
	"sort"
	"time"

	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/store"
	ptime "clinicaletl/internal/platform/time"
	checkpointdomain "clinicaletl/internal/services/checkpoint/domain"
	conceptdomain "clinicaletl/internal/services/concept/domain"
	"clinicaletl/internal/services/progress/domain"
)

// Unmapper reports sentinel concept mappings
type Unmapper interface {
	Unmapped(ctx context.Context) ([]conceptdomain.UnmappedCount, error)
}

// Checkpoints lists stage checkpoints
type Checkpoints interface {
	List(ctx context.Context) ([]checkpointdomain.Checkpoint, error)
}

// Service implements domain.Ports
type Service struct {
	db       repokit.TxRunner
	binder   repokit.Binder[domain.Repo]
	cps      Checkpoints
	concepts Unmapper
	trigger  domain.Trigger
	stages   []string
	now      func() time.Time
}

var _ domain.Ports = (*Service)(nil)

// New constructs the progress service. stages is the declared stage order;
// trigger may be nil when runs cannot be started from here
func New(db repokit.TxRunner, binder repokit.Binder[domain.Repo], cps Checkpoints, concepts Unmapper, trigger domain.Trigger, stages []string) *Service {
	if db == nil || binder == nil {
		panic("progress.Service requires a TxRunner and a Repo binder")
	}
	if cps == nil || concepts == nil {
		panic("progress.Service requires checkpoint and concept ports")
	}
	return &Service{
		db: db, binder: binder, cps: cps, concepts: concepts, trigger: trigger,
		stages: append([]string(nil), stages...),
		now:    ptime.Now,
	}
}

// Report returns every stage with its scopes plus the unmapped report
func (s *Service) Report(ctx context.Context) (domain.Report, error) {
	stages, err := s.Stages(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	unmapped, err := s.Unmapped(ctx)
	if err != nil {
		return domain.Report{}, err
	}

	var processed, expected int64
	for _, st := range stages {
		for _, sc := range st.Scopes {
			processed += min(sc.Processed, sc.ExpectedTotal)
			expected += sc.ExpectedTotal
		}
	}
	return domain.Report{
		GeneratedAt: s.now(),
		Stages:      stages,
		Unmapped:    unmapped,
		Percent:     domain.Percent(processed, expected),
	}, nil
}

// Stages returns the per-stage view in declared order. Stages that never
// started are reported pending
func (s *Service) Stages(ctx context.Context) ([]domain.StageProgress, error) {
	cps, err := s.cps.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		scopes []domain.ScopeProgress
		errs   []domain.ErrorCount
	)
	err = store.RunSnapshot(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		repo := s.binder.Bind(q)
		var err error
		if scopes, err = repo.Scopes(ctx); err != nil {
			return err
		}
		errs, err = repo.RowErrors(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	byStage := map[string]*domain.StageProgress{}
	var extra []string
	get := func(name string) *domain.StageProgress {
		if sp, ok := byStage[name]; ok {
			return sp
		}
		sp := &domain.StageProgress{Stage: name, Status: checkpointdomain.StatusPending}
		byStage[name] = sp
		return sp
	}
	for _, name := range s.stages {
		get(name)
	}
	for _, cp := range cps {
		sp := get(cp.Stage)
		sp.Status = cp.Status
		sp.StartedAt = cp.StartedAt
		sp.CompletedAt = cp.CompletedAt
		sp.RowsProcessed = cp.RowsProcessed
		sp.Attempts = cp.Attempts
		sp.ErrorMessage = cp.ErrorMessage
		sp.RunID = cp.RunID
	}
	for _, sc := range scopes {
		sc.Percent = domain.Percent(sc.Processed, sc.ExpectedTotal)
		sp := get(sc.Stage)
		sp.Scopes = append(sp.Scopes, sc)
	}
	for _, e := range errs {
		get(e.Stage).RowErrors = e.Count
	}

	declared := make(map[string]bool, len(s.stages))
	for _, n := range s.stages {
		declared[n] = true
	}
	for n := range byStage {
		if !declared[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)

	out := make([]domain.StageProgress, 0, len(byStage))
	for _, n := range append(append([]string(nil), s.stages...), extra...) {
		sp := byStage[n]
		sp.Percent = stagePercent(*sp)
		if sp.Scopes == nil {
			sp.Scopes = []domain.ScopeProgress{}
		}
		out = append(out, *sp)
	}
	return out, nil
}

func stagePercent(sp domain.StageProgress) float64 {
	if len(sp.Scopes) == 0 {
		if sp.Status == checkpointdomain.StatusCompleted {
			return 100
		}
		return 0
	}
	var processed, expected int64
	for _, sc := range sp.Scopes {
		processed += min(sc.Processed, sc.ExpectedTotal)
		expected += sc.ExpectedTotal
	}
	return domain.Percent(processed, expected)
}

// Unmapped returns sentinel mapping counts per vocabulary and domain
func (s *Service) Unmapped(ctx context.Context) ([]conceptdomain.UnmappedCount, error) {
	out, err := s.concepts.Unmapped(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []conceptdomain.UnmappedCount{}
	}
	return out, nil
}

// Trigger starts a run through the configured trigger
func (s *Service) Trigger(ctx context.Context, in domain.RunRequest) (string, error) {
	if s.trigger == nil {
		return "", perr.New(perr.ErrorCodeUnavailable, "progress: runs cannot be triggered from this process")
	}
	return s.trigger.Trigger(ctx, in)
}
