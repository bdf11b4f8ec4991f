package service

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/platform/backoff"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	eventsdomain "clinicaletl/internal/services/events/domain"
	"clinicaletl/internal/services/orchestrator/domain"
	verifydomain "clinicaletl/internal/services/verify/domain"
)

// stage runs one stage to an outcome. Errors and panics end as a failed
// checkpoint; they never escape to the dispatcher
func (s *Service) stage(ctx context.Context, name string, opts domain.Options) (r domain.StageResult) {
	st, _ := s.p.Stage(name)
	ctx = logger.WithStage(ctx, name)
	r = domain.StageResult{Name: name, Index: s.p.Index(name), Kind: st.Kind}
	start := s.now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.C(ctx).Error().Interface("panic", rec).Bytes("stack", debug.Stack()).
				Msg("orchestrator: stage panicked")
			r = s.failed(ctx, r, perr.PanicErrf("stage %s panicked: %v", name, rec))
		}
		r.Duration = s.now().Sub(start)
		s.sink.Emit(ctx, eventsdomain.Event{
			Kind: eventsdomain.KindStageFinished, Stage: name, Status: string(r.Outcome),
			Counts: r.Counts, Duration: r.Duration, Message: r.Error,
		})
	}()

	if ctx.Err() != nil {
		r.Outcome = domain.OutcomeCancelled
		r.Error = "cancelled before start"
		return r
	}
	if !opts.Force {
		done, err := s.cps.IsCompleted(ctx, name)
		if err != nil {
			return s.failed(ctx, r, err)
		}
		if done {
			r.Outcome = domain.OutcomeSkipped
			logger.C(ctx).Info().Msg("orchestrator: stage already completed, skipped")
			return r
		}
	}

	if _, err := s.cps.Begin(ctx, name, logger.RunID(ctx), opts.Force); err != nil {
		return s.failed(ctx, r, err)
	}
	s.sink.Emit(ctx, eventsdomain.Event{Kind: eventsdomain.KindStageStarted, Stage: name})

	if err := s.windows(ctx, st, opts, &r); err != nil {
		return s.failed(ctx, r, err)
	}
	if r.Unverified > 0 {
		return s.failed(ctx, r, perr.Integrityf("%d windows unverified, their source rows were kept", r.Unverified))
	}
	if err := s.cps.Complete(ctx, name); err != nil {
		return s.failed(ctx, r, err)
	}
	r.Outcome = domain.OutcomeCompleted
	logger.C(ctx).Info().Int("windows", r.Windows).Int64("read", r.Counts.Read).
		Int64("inserted", r.Counts.Inserted).Int64("errors", r.Counts.Errors).Int64("gaps", r.Counts.Gaps).
		Dur("took", s.now().Sub(start)).Msg("orchestrator: stage completed")
	return r
}

// windows plans every scope of st and processes its pending windows in
// ascending key order
func (s *Service) windows(ctx context.Context, st *pipeline.Stage, opts domain.Options, r *domain.StageResult) error {
	size := opts.BatchSize
	if size <= 0 {
		size = s.p.WindowSize(st, s.cfg.BatchSize)
	}
	if (st.Kind == pipeline.KindTransform || st.Kind == pipeline.KindRelocate) && s.workers.Targets != nil {
		if err := s.workers.Targets.EnsureTarget(ctx, st); err != nil {
			return err
		}
	}
	worker := s.worker(st.Kind)

	for _, sc := range st.Scopes() {
		ws, _, err := s.cps.Plan(ctx, st.Name, sc.Name, size, func(ctx context.Context) (window.Extent, error) {
			return worker.Extent(ctx, st, sc)
		})
		if err != nil {
			return err
		}
		for _, w := range ws {
			if finished(st, w) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return perr.Wrap(err, perr.ErrorCodeCancelled, "cancelled")
			}
			began := s.now()
			c, unverified, err := s.window(ctx, st, sc, w)
			if err != nil {
				return err
			}
			r.Windows++
			r.Counts.Add(c)
			status := "processed"
			if unverified {
				r.Unverified++
				status = string(verifydomain.OutcomeUnverified)
			} else {
				r.LastWindow = w.Label()
			}
			s.sink.Emit(ctx, eventsdomain.Event{
				Kind: eventsdomain.KindWindow, Stage: st.Name, Scope: sc.Name, Status: status,
				WindowID: w.ID, Range: w.Range, Counts: c, Duration: s.now().Sub(began),
			})
		}
	}
	return nil
}

// window runs one window, retrying transient failures. The processed flag
// commits with the window's own transaction through the checkpoint hook
func (s *Service) window(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window) (window.Counts, bool, error) {
	var (
		c          window.Counts
		unverified bool
	)
	// a started window runs to commit; cancellation is honoured between windows and retries
	wctx := context.WithoutCancel(ctx)
	err := backoff.Retry(ctx, s.cfg.Retry, perr.Retryable,
		func(attempt int, err error, wait time.Duration) {
			logger.C(ctx).Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).
				Str("window", w.Label()).Msg("orchestrator: retrying window")
		},
		func(context.Context) error {
			if st.Kind != pipeline.KindRelocate {
				var err error
				c, err = s.worker(st.Kind).Window(wctx, st, sc, w, s.cps.Processed(w))
				return err
			}
			res, err := s.workers.Relocate.Relocate(wctx, st, sc, w, s.cps.Processed(w))
			c = res.Counts
			if verifydomain.IsUnverified(err) {
				unverified = true
				return nil
			}
			return err
		})
	if err != nil {
		return window.Counts{}, false, err
	}
	return c, unverified, nil
}

// finished reports whether a persisted window needs no more work
func finished(st *pipeline.Stage, w window.Window) bool {
	if st.Kind == pipeline.KindRelocate {
		return w.Deleted
	}
	return w.Processed
}

// worker picks the worker of a stage kind. Relocate windows are planned
// over the same source extents the transformer reads
func (s *Service) worker(k pipeline.Kind) domain.Worker {
	switch k {
	case pipeline.KindIdentity:
		return s.workers.Identity
	case pipeline.KindConcept:
		return s.workers.Concept
	default:
		return s.workers.Transform
	}
}

func (s *Service) kind(name string) pipeline.Kind {
	if st, ok := s.p.Stage(name); ok {
		return st.Kind
	}
	return ""
}

// failed records err on the stage checkpoint. Cancellation is reported as
// its own outcome with the message "cancelled"
func (s *Service) failed(ctx context.Context, r domain.StageResult, err error) domain.StageResult {
	r.Outcome = domain.OutcomeFailed
	r.Error = err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || perr.IsCode(err, perr.ErrorCodeCancelled) {
		r.Outcome = domain.OutcomeCancelled
		r.Error = "cancelled"
	}

	ctx = context.WithoutCancel(ctx)
	if r.LastWindow == "" {
		if w, ok, lerr := s.cps.LastWindow(ctx, r.Name); lerr == nil && ok {
			r.LastWindow = w.Label()
		}
	}
	if ferr := s.cps.Fail(ctx, r.Name, r.Error); ferr != nil {
		logger.C(ctx).Warn().Err(ferr).Msg("orchestrator: could not record stage failure")
	}
	logger.C(ctx).Error().Err(err).Str("outcome", string(r.Outcome)).Str("last_window", r.LastWindow).
		Msg("orchestrator: stage did not complete")
	return r
}
