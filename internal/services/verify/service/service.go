// Package service implements migrate, verify and delete for relocate stages.
// Source rows are deleted only after a durable verified count equals the
// migrated count of their window
package service

import (
	"context"
	"sort"

	"clinicaletl/internal/core/derive"
	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	"clinicaletl/internal/platform/store"
	checkpointdomain "clinicaletl/internal/services/checkpoint/domain"
	transformdomain "clinicaletl/internal/services/transform/domain"
	"clinicaletl/internal/services/verify/domain"
)

// Service implements domain.Ports
type Service struct {
	db        repokit.TxRunner
	binder    repokit.Binder[domain.Repo]
	ledger    repokit.Binder[checkpointdomain.WindowLedger]
	transform transformdomain.Ports
}

var _ domain.Ports = (*Service)(nil)

// New constructs the verify service
func New(
	db repokit.TxRunner,
	binder repokit.Binder[domain.Repo],
	ledger repokit.Binder[checkpointdomain.WindowLedger],
	transform transformdomain.Ports,
) *Service {
	if db == nil {
		panic("verify.Service requires a non-nil TxRunner")
	}
	if binder == nil || ledger == nil {
		panic("verify.Service requires repo and ledger binders")
	}
	if transform == nil {
		panic("verify.Service requires the transform ports")
	}
	return &Service{db: db, binder: binder, ledger: ledger, transform: transform}
}

func relocate(st *pipeline.Stage) (transformdomain.Target, error) {
	if st == nil || st.Kind != pipeline.KindRelocate || st.Transform == nil {
		return transformdomain.Target{}, perr.InvalidArgf("verify: not a relocate stage")
	}
	return transformdomain.Target{Spec: st.Transform, Carried: true}, nil
}

// columns returns the target columns compared during verification
func columns(st *pipeline.Stage, t transformdomain.Target) map[string]derive.Kind {
	all := t.ColumnKinds()
	if len(st.Verify) == 0 {
		return all
	}
	out := map[string]derive.Kind{transformdomain.ColSourceKey: derive.KindText}
	for _, c := range st.Verify {
		out[c] = all[c]
	}
	return out
}

// Migrate copies the window into the final target. hooks run in the same
// transaction; the checkpoint hook stores the migrated count there
func (s *Service) Migrate(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (window.Counts, error) {
	if _, err := relocate(st); err != nil {
		return window.Counts{}, err
	}
	return s.transform.Window(ctx, st, sc, w, hooks...)
}

// match re-reads the source window through q and returns the keys of source
// rows whose target copy matches on natural key and every verify column
func (s *Service) match(ctx context.Context, q repokit.Queryer, st *pipeline.Stage, t transformdomain.Target, r window.Range) ([]int64, error) {
	cols := columns(st, t)
	names := make([]string, 0, len(cols))
	for c := range cols {
		names = append(names, c)
	}
	sort.Strings(names)

	repo := s.binder.Bind(q)
	var matched []int64
	err := s.transform.Scan(ctx, q, st, r, func(ds []transformdomain.Derived) error {
		keys := make([]string, 0, len(ds))
		for _, d := range ds {
			if d.Record != nil {
				keys = append(keys, d.Record.SourceKey)
			}
		}
		targets, err := repo.Targets(ctx, t, keys, cols)
		if err != nil {
			return err
		}
		for _, d := range ds {
			if d.Record == nil {
				continue
			}
			got, ok := targets[d.Record.SourceKey]
			if !ok {
				continue
			}
			if equalAll(d.Record, got, names) {
				matched = append(matched, d.Key)
			}
		}
		return nil
	})
	return matched, err
}

func equalAll(rec *transformdomain.Record, got map[string]*string, names []string) bool {
	for _, c := range names {
		v, ok := rec.Value(c)
		if !ok || !derive.Equal(v, got[c]) {
			return false
		}
	}
	return true
}

// Verify counts the source rows of w whose target copy matches and records
// the count durably. The window is verified when the count equals its
// migrated count
func (s *Service) Verify(ctx context.Context, st *pipeline.Stage, w window.Window) (window.Window, error) {
	t, err := relocate(st)
	if err != nil {
		return w, err
	}

	var n int64
	err = store.RunSnapshot(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		keys, err := s.match(ctx, q, st, t, w.Range)
		n = int64(len(keys))
		return err
	})
	if err != nil {
		return w, err
	}

	var out window.Window
	err = s.db.Tx(ctx, func(q repokit.Queryer) error {
		var err error
		out, err = s.ledger.Bind(q).RecordVerified(ctx, w.ID, n)
		return err
	})
	if err != nil {
		return w, err
	}
	logger.C(ctx).Info().Str("window", out.Label()).Int64("migrated", out.Migrated).
		Int64("verified", n).Bool("match", out.Verified).Msg("verify: window verified")
	return out, nil
}

// DeleteIfVerified removes the matched source rows of w in one transaction,
// only when the durable verified count equals the migrated count. Otherwise
// the window is flagged unverified and ErrUnverified is returned
func (s *Service) DeleteIfVerified(ctx context.Context, st *pipeline.Stage, w window.Window) (int64, error) {
	t, err := relocate(st)
	if err != nil {
		return 0, err
	}

	var (
		deleted    int64
		unverified bool
		cur        window.Window
	)
	err = s.db.Tx(ctx, func(q repokit.Queryer) error {
		ledger := s.ledger.Bind(q)
		var err error
		cur, err = ledger.Window(ctx, w.ID)
		if err != nil {
			return err
		}
		if cur.Deleted {
			if cur.DeletedCount != nil {
				deleted = *cur.DeletedCount
			}
			return nil
		}
		if !cur.Processed || !cur.Verified || cur.VerifiedCount != cur.Migrated {
			unverified = true
			return ledger.MarkUnverified(ctx, w.ID)
		}

		keys, err := s.match(ctx, q, st, t, cur.Range)
		if err != nil {
			return err
		}
		if int64(len(keys)) != cur.VerifiedCount {
			return perr.Integrityf("verify: window %s matched %d rows, verified %d", cur.Label(), len(keys), cur.VerifiedCount)
		}
		deleted, err = s.binder.Bind(q).DeleteSource(ctx, t.Spec.Source, keys)
		if err != nil {
			return err
		}
		if deleted != cur.VerifiedCount {
			return perr.Integrityf("verify: window %s deleted %d rows, verified %d", cur.Label(), deleted, cur.VerifiedCount)
		}
		return ledger.MarkDeleted(ctx, w.ID, deleted)
	})
	if err != nil {
		return 0, err
	}
	if unverified {
		logger.C(ctx).Warn().Str("window", cur.Label()).Int64("migrated", cur.Migrated).
			Int64("verified", cur.VerifiedCount).Msg("verify: window unverified, nothing deleted")
		return 0, perr.WithOp(domain.ErrUnverified, cur.Label())
	}
	logger.C(ctx).Info().Str("window", w.Label()).Int64("deleted", deleted).Msg("verify: source rows deleted")
	return deleted, nil
}

// Relocate drives one window through migrate, verify and delete, resuming
// from whichever phase a previous run reached
func (s *Service) Relocate(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (domain.Result, error) {
	res := domain.Result{Window: w, Migrated: w.Migrated, Verified: w.VerifiedCount}
	if w.Deleted {
		if w.DeletedCount != nil {
			res.Deleted = *w.DeletedCount
		}
		res.Outcome = domain.OutcomeDeleted
		return res, nil
	}
	if !w.Processed {
		c, err := s.Migrate(ctx, st, sc, w, hooks...)
		if err != nil {
			return res, err
		}
		res.Counts = c
		w.Processed = true
		w.Counts = c
		w.Migrated = c.Landed()
	}
	res.Migrated = w.Migrated

	if !w.Verified {
		v, err := s.Verify(ctx, st, w)
		if err != nil {
			return res, err
		}
		w = v
	}
	res.Verified = w.VerifiedCount

	n, err := s.DeleteIfVerified(ctx, st, w)
	res.Window = w
	res.Deleted = n
	if err != nil {
		if domain.IsUnverified(err) {
			res.Outcome = domain.OutcomeUnverified
		}
		return res, err
	}
	res.Outcome = domain.OutcomeDeleted
	return res, nil
}
