package service

import (
	"context"
	"fmt"
	"slices"

	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	eventsdomain "clinicaletl/internal/services/events/domain"
	"clinicaletl/internal/services/orchestrator/domain"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// run dispatches ready stages until every selected stage has an outcome.
// A stage is ready once all its selected dependencies completed or were
// skipped; a failure blocks only the stages downstream of it
func (s *Service) run(ctx context.Context, opts domain.Options) (domain.RunResult, error) {
	if err := s.check(opts); err != nil {
		return domain.RunResult{}, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	ctx = logger.WithRun(ctx, opts.RunID)
	log := logger.C(ctx).With().Str("mod", "orchestrator").Logger()

	res := domain.RunResult{RunID: opts.RunID, StartedAt: s.now()}
	order, err := s.p.Order()
	if err != nil {
		return res, err
	}
	selected := mapset.NewThreadUnsafeSet(order...)
	if len(opts.Steps) > 0 {
		selected = mapset.NewThreadUnsafeSet(opts.Steps...)
	}
	par := opts.Parallelism
	if par <= 0 {
		par = s.cfg.Parallelism
	}

	log.Info().Int("stages", selected.Cardinality()).Int("parallelism", par).Bool("force", opts.Force).
		Msg("orchestrator: run started")
	s.sink.Emit(ctx, eventsdomain.Event{Kind: eventsdomain.KindRunStarted})

	results := map[string]domain.StageResult{}
	waiting := map[string]int{}
	downstream := map[string][]string{}
	var ready []string

	// settle records r and releases or blocks the stages waiting on it
	var settle func(r domain.StageResult)
	settle = func(r domain.StageResult) {
		results[r.Name] = r
		for _, d := range downstream[r.Name] {
			if _, done := results[d]; done {
				continue
			}
			if !r.Outcome.Ok() {
				settle(s.blocked(d, fmt.Sprintf("dependency %s %s", r.Name, r.Outcome)))
				continue
			}
			waiting[d]--
			if waiting[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	for _, name := range order {
		if !selected.Contains(name) {
			continue
		}
		var missing string
		for _, dep := range s.p.Deps(name) {
			if selected.Contains(dep) {
				waiting[name]++
				downstream[dep] = append(downstream[dep], name)
				continue
			}
			done, err := s.cps.IsCompleted(ctx, dep)
			if err != nil {
				return res, err
			}
			if !done && missing == "" {
				missing = dep
			}
		}
		if missing != "" {
			waiting[name] = -1
			results[name] = s.blocked(name, fmt.Sprintf("dependency %s not selected and not completed", missing))
		}
	}
	// blocked-at-plan stages still block what waits on them
	for _, name := range order {
		if r, ok := results[name]; ok && r.Outcome == domain.OutcomeBlocked {
			settle(r)
		}
	}
	for _, name := range order {
		if selected.Contains(name) && waiting[name] == 0 {
			if _, done := results[name]; !done {
				ready = append(ready, name)
			}
		}
	}

	var g errgroup.Group
	g.SetLimit(par)
	done := make(chan domain.StageResult, selected.Cardinality())
	inflight := 0

	for len(results) < selected.Cardinality() {
		slices.SortFunc(ready, func(a, b string) int { return s.p.Index(a) - s.p.Index(b) })
		for len(ready) > 0 && ctx.Err() == nil {
			name := ready[0]
			ready = ready[1:]
			inflight++
			g.Go(func() error {
				done <- s.stage(ctx, name, opts)
				return nil
			})
		}
		if inflight == 0 {
			break
		}
		r := <-done
		inflight--
		settle(r)
	}
	_ = g.Wait()

	// whatever never started was cut short by cancellation
	for _, name := range order {
		if !selected.Contains(name) {
			continue
		}
		if _, ok := results[name]; !ok {
			results[name] = domain.StageResult{
				Name: name, Index: s.p.Index(name), Kind: s.kind(name),
				Outcome: domain.OutcomeCancelled, Error: "cancelled before start",
			}
		}
	}

	res.Status = domain.StatusSucceeded
	for _, name := range order {
		if !selected.Contains(name) {
			continue
		}
		r := results[name]
		res.Stages = append(res.Stages, r)
		if !r.Outcome.Ok() {
			res.Status = domain.StatusFailed
		}
	}
	slices.SortFunc(res.Stages, func(a, b domain.StageResult) int { return a.Index - b.Index })
	res.Failure = failure(res.Stages)
	res.FinishedAt = s.now()

	s.sink.Emit(ctx, eventsdomain.Event{
		Kind: eventsdomain.KindRunFinished, Status: string(res.Status),
		Duration: res.FinishedAt.Sub(res.StartedAt),
	})
	if err := s.sink.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("orchestrator: run events not delivered")
	}

	if res.Failure != nil {
		log.Error().Str("stage", res.Failure.Stage).Str("last_window", res.Failure.LastWindow).
			Str("error", res.Failure.Message).Msg("orchestrator: run failed")
		return res, perr.Newf(perr.ErrorCodeStageFailure, "stage %s failed: %s", res.Failure.Stage, res.Failure.Message)
	}
	log.Info().Dur("took", res.FinishedAt.Sub(res.StartedAt)).Msg("orchestrator: run succeeded")
	return res, nil
}

// failure picks the stage a failed run is reported under: the first failed
// stage in declaration order, then cancelled, then blocked
func failure(stages []domain.StageResult) *domain.Failure {
	for _, want := range []domain.Outcome{domain.OutcomeFailed, domain.OutcomeCancelled, domain.OutcomeBlocked} {
		for _, r := range stages {
			if r.Outcome == want {
				return &domain.Failure{Stage: r.Name, Index: r.Index, Message: r.Error, LastWindow: r.LastWindow}
			}
		}
	}
	return nil
}

func (s *Service) blocked(name, why string) domain.StageResult {
	return domain.StageResult{
		Name: name, Index: s.p.Index(name), Kind: s.kind(name),
		Outcome: domain.OutcomeBlocked, Error: why,
	}
}
