// Package service implements the checkpoint store: stage lifecycle rows,
// window planning and the checkpoint file
package service

import (
	"context"
	"time"

	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	"clinicaletl/internal/platform/store"
	ptime "clinicaletl/internal/platform/time"
	"clinicaletl/internal/services/checkpoint/domain"
)

// Service implements domain.Ports
type Service struct {
	db     repokit.TxRunner
	binder repokit.Binder[domain.Repo]
	file   *File
	now    func() time.Time
}

var _ domain.Ports = (*Service)(nil)

// New constructs the checkpoint service. file may be nil to disable the
// checkpoint file
func New(db repokit.TxRunner, binder repokit.Binder[domain.Repo], file *File) *Service {
	if db == nil {
		panic("checkpoint.Service requires a non-nil TxRunner")
	}
	if binder == nil {
		panic("checkpoint.Service requires a non-nil Repo binder")
	}
	if file == nil {
		file = &File{entries: map[string]domain.FileEntry{}}
	}
	return &Service{db: db, binder: binder, file: file, now: ptime.Now}
}

// WithClock replaces the time source, for tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// File returns the checkpoint file
func (s *Service) File() *File { return s.file }

// Ledger binds the window ledger to a transaction
func (s *Service) Ledger() repokit.Binder[domain.WindowLedger] {
	return repokit.BindFunc[domain.WindowLedger](func(q repokit.Queryer) domain.WindowLedger {
		return s.binder.Bind(q)
	})
}

// SeedFromFile inserts completed rows for stages the file marks completed
// and the database does not know yet
func (s *Service) SeedFromFile(ctx context.Context) error {
	entries := s.file.Entries()
	if len(entries) == 0 {
		return nil
	}
	return s.db.Tx(ctx, func(q repokit.Queryer) error {
		r := s.binder.Bind(q)
		for stage, e := range entries {
			if !e.Completed {
				continue
			}
			at := e.Timestamp
			if at.IsZero() {
				at = s.now()
			}
			if err := r.Seed(ctx, stage, at); err != nil {
				return err
			}
		}
		return nil
	})
}

// IsCompleted reports whether stage finished. The file answers first
func (s *Service) IsCompleted(ctx context.Context, stage string) (bool, error) {
	if s.file.Completed(stage) {
		return true, nil
	}
	c, ok, err := s.Get(ctx, stage)
	if err != nil {
		return false, err
	}
	return ok && c.Status == domain.StatusCompleted, nil
}

// Get returns the checkpoint of one stage
func (s *Service) Get(ctx context.Context, stage string) (domain.Checkpoint, bool, error) {
	var (
		c  domain.Checkpoint
		ok bool
	)
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		c, ok, err = s.binder.Bind(q).Get(ctx, stage)
		return err
	})
	return c, ok, err
}

// List returns every checkpoint row
func (s *Service) List(ctx context.Context) ([]domain.Checkpoint, error) {
	var out []domain.Checkpoint
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		out, err = s.binder.Bind(q).List(ctx)
		return err
	})
	return out, err
}

// Begin moves stage to in_progress. A completed stage restarts only when
// forced, and then its windows are planned afresh
func (s *Service) Begin(ctx context.Context, stage, runID string, force bool) (domain.Checkpoint, error) {
	var c domain.Checkpoint
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		r := s.binder.Bind(q)
		cur, ok, err := r.Get(ctx, stage)
		if err != nil {
			return err
		}
		from := domain.Status("")
		if ok {
			from = cur.Status
		}
		if !domain.CanStart(from, force) {
			return perr.Conflictf("stage %s is %s", stage, from)
		}
		if from == domain.StatusCompleted {
			if err := r.ClearWindows(ctx, stage); err != nil {
				return err
			}
		}
		c, err = r.Start(ctx, stage, runID, s.now())
		return err
	})
	if err != nil {
		return c, err
	}
	if err := s.file.Set(stage, domain.FileEntry{Completed: false, Timestamp: s.now()}); err != nil {
		return c, err
	}
	logger.C(ctx).Info().Str("stage", stage).Int("attempt", c.Attempts).Msg("checkpoint: stage started")
	return c, nil
}

// Complete marks stage completed
func (s *Service) Complete(ctx context.Context, stage string) error {
	at := s.now()
	if err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).Complete(ctx, stage, at)
	}); err != nil {
		return err
	}
	return s.file.Set(stage, domain.FileEntry{Completed: true, Timestamp: at})
}

// Fail marks stage failed with msg
func (s *Service) Fail(ctx context.Context, stage, msg string) error {
	at := s.now()
	if err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).Fail(ctx, stage, msg, at)
	}); err != nil {
		return err
	}
	return s.file.Set(stage, domain.FileEntry{Completed: false, Timestamp: at})
}

// Plan returns the windows of one stage scope, creating them on first call.
// extent is consulted only when no total was snapshotted yet, so a resumed
// stage keeps the windows and expected total it started with
func (s *Service) Plan(
	ctx context.Context, stage, scope string, size int64,
	extent func(context.Context) (window.Extent, error),
) ([]window.Window, domain.Total, error) {
	var (
		t      domain.Total
		exists bool
	)
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		t, exists, err = s.binder.Bind(q).Total(ctx, stage, scope)
		return err
	})
	if err != nil {
		return nil, t, err
	}

	if !exists {
		e, err := extent(ctx)
		if err != nil {
			return nil, t, err
		}
		t = domain.Total{Stage: stage, Scope: scope, Extent: e, SnapshotAt: s.now()}
		ranges := window.Partition(e, size)
		err = s.db.Tx(ctx, func(q repokit.Queryer) error {
			r := s.binder.Bind(q)
			if err := r.SnapshotTotal(ctx, t); err != nil {
				return err
			}
			_, err := r.CreateWindows(ctx, stage, scope, ranges)
			return err
		})
		if err != nil {
			return nil, t, err
		}
		logger.C(ctx).Info().Str("scope", scope).Int64("expected_total", e.Total).
			Stringer("range", e.Range()).Int("windows", len(ranges)).Msg("checkpoint: windows planned")
	}

	var ws []window.Window
	err = store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		ws, err = s.binder.Bind(q).Windows(ctx, stage, scope)
		return err
	})
	return ws, t, err
}

// Processed returns the hook that flags w processed inside its transaction
func (s *Service) Processed(w window.Window) window.Hook {
	return func(ctx context.Context, q store.RowQuerier, c window.Counts) error {
		return s.binder.Bind(q).MarkProcessed(ctx, w, c)
	}
}

// LastWindow returns the last window the stage committed
func (s *Service) LastWindow(ctx context.Context, stage string) (window.Window, bool, error) {
	var (
		w  window.Window
		ok bool
	)
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		r := s.binder.Bind(q)
		c, found, err := r.Get(ctx, stage)
		if err != nil || !found || !c.LastWindowID.Valid {
			return err
		}
		w, err = r.Window(ctx, c.LastWindowID.Int64)
		ok = err == nil
		return err
	})
	return w, ok, err
}

// ResetStage forgets one stage so the next run starts it from scratch
func (s *Service) ResetStage(ctx context.Context, stage string) error {
	if err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).ResetStage(ctx, stage)
	}); err != nil {
		return err
	}
	return s.file.Delete(stage)
}

// ResetAll wipes checkpoints, windows, row errors, mappings and the file
func (s *Service) ResetAll(ctx context.Context) error {
	if err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).ResetAll(ctx)
	}); err != nil {
		return err
	}
	return s.file.Clear()
}
