// Package memrepo is an in-memory checkpoint repo for tests. Writes apply
// at once and are undone when the fakedb transaction rolls back
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/testkit/fakedb"
	"clinicaletl/internal/services/checkpoint/domain"

	"gopkg.in/guregu/null.v3"
)

type totalKey struct{ stage, scope string }

// Store holds checkpoint state
type Store struct {
	mu          sync.Mutex
	checkpoints map[string]domain.Checkpoint
	totals      map[totalKey]domain.Total
	windows     map[int64]window.Window
	nextID      int64
	resets      int
}

// New returns an empty store
func New() *Store {
	return &Store{
		checkpoints: map[string]domain.Checkpoint{},
		totals:      map[totalKey]domain.Total{},
		windows:     map[int64]window.Window{},
	}
}

// Binder binds the store to a fake transaction
func (s *Store) Binder() repokit.Binder[domain.Repo] {
	return repokit.BindFunc[domain.Repo](func(q repokit.Queryer) domain.Repo { return &repo{s: s, q: q} })
}

// Checkpoint returns the row of stage
func (s *Store) Checkpoint(stage string) (domain.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkpoints[stage]
	return c, ok
}

// Put stores a checkpoint row as is
func (s *Store) Put(c domain.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[c.Stage] = c
}

// AllWindows returns every window ordered by id
func (s *Store) AllWindows() []window.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]window.Window, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resets returns how many times ResetAll ran
func (s *Store) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

type repo struct {
	s *Store
	q repokit.Queryer
}

var _ domain.Repo = (*repo)(nil)

// snapshot restores the whole store if the transaction rolls back
func (r *repo) snapshot() {
	cps := make(map[string]domain.Checkpoint, len(r.s.checkpoints))
	for k, v := range r.s.checkpoints {
		cps[k] = v
	}
	tots := make(map[totalKey]domain.Total, len(r.s.totals))
	for k, v := range r.s.totals {
		tots[k] = v
	}
	wins := make(map[int64]window.Window, len(r.s.windows))
	for k, v := range r.s.windows {
		wins[k] = v
	}
	next := r.s.nextID
	fakedb.OnRollback(r.q, func() {
		r.s.mu.Lock()
		r.s.checkpoints, r.s.totals, r.s.windows, r.s.nextID = cps, tots, wins, next
		r.s.mu.Unlock()
	})
}

func (r *repo) Get(_ context.Context, stage string) (domain.Checkpoint, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.checkpoints[stage]
	return c, ok, nil
}

func (r *repo) List(_ context.Context) ([]domain.Checkpoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Checkpoint, 0, len(r.s.checkpoints))
	for _, c := range r.s.checkpoints {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out, nil
}

func (r *repo) Seed(_ context.Context, stage string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.checkpoints[stage]; ok {
		return nil
	}
	r.snapshot()
	r.s.checkpoints[stage] = domain.Checkpoint{
		Stage: stage, Status: domain.StatusCompleted, CompletedAt: null.TimeFrom(at), UpdatedAt: at,
	}
	return nil
}

func (r *repo) Start(_ context.Context, stage, runID string, at time.Time) (domain.Checkpoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.snapshot()
	c := r.s.checkpoints[stage]
	c.Stage = stage
	c.Status = domain.StatusInProgress
	c.StartedAt = null.TimeFrom(at)
	c.CompletedAt = null.Time{}
	c.ErrorMessage = null.String{}
	c.RunID = null.StringFrom(runID)
	c.Attempts++
	c.UpdatedAt = at
	r.s.checkpoints[stage] = c
	return c, nil
}

func (r *repo) Complete(_ context.Context, stage string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.checkpoints[stage]
	if !ok {
		return perr.NotFoundf("checkpoint %s", stage)
	}
	r.snapshot()
	c.Status = domain.StatusCompleted
	c.CompletedAt = null.TimeFrom(at)
	c.ErrorMessage = null.String{}
	c.UpdatedAt = at
	r.s.checkpoints[stage] = c
	return nil
}

func (r *repo) Fail(_ context.Context, stage, msg string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.snapshot()
	c := r.s.checkpoints[stage]
	c.Stage = stage
	c.Status = domain.StatusFailed
	c.ErrorMessage = null.StringFrom(msg)
	c.UpdatedAt = at
	r.s.checkpoints[stage] = c
	return nil
}

func (r *repo) Total(_ context.Context, stage, scope string) (domain.Total, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.totals[totalKey{stage, scope}]
	return t, ok, nil
}

func (r *repo) SnapshotTotal(_ context.Context, t domain.Total) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := totalKey{t.Stage, t.Scope}
	if _, ok := r.s.totals[k]; ok {
		return nil
	}
	r.snapshot()
	r.s.totals[k] = t
	return nil
}

func (r *repo) CreateWindows(_ context.Context, stage, scope string, rs []window.Range) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.snapshot()
	var n int64
outer:
	for _, rg := range rs {
		for _, w := range r.s.windows {
			if w.Stage == stage && w.Scope == scope && w.Min == rg.Min {
				continue outer
			}
		}
		r.s.nextID++
		r.s.windows[r.s.nextID] = window.Window{ID: r.s.nextID, Stage: stage, Scope: scope, Range: rg}
		n++
	}
	return n, nil
}

func (r *repo) Windows(_ context.Context, stage, scope string) ([]window.Window, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []window.Window
	for _, w := range r.s.windows {
		if w.Stage == stage && w.Scope == scope {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Min < out[j].Min })
	return out, nil
}

func (r *repo) Window(_ context.Context, id int64) (window.Window, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.windows[id]
	if !ok {
		return w, perr.NotFoundf("window %d", id)
	}
	return w, nil
}

func (r *repo) MarkProcessed(_ context.Context, w window.Window, c window.Counts) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.windows[w.ID]
	if !ok {
		return perr.NotFoundf("window %d", w.ID)
	}
	r.snapshot()
	cur.Processed = true
	cur.Counts = c
	cur.Migrated = c.Landed()
	r.s.windows[w.ID] = cur
	if cp, ok := r.s.checkpoints[w.Stage]; ok {
		cp.LastWindowID = null.IntFrom(w.ID)
		cp.RowsProcessed += c.Read
		r.s.checkpoints[w.Stage] = cp
	}
	return nil
}

func (r *repo) RecordVerified(_ context.Context, id, verified int64) (window.Window, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.windows[id]
	if !ok {
		return w, perr.NotFoundf("window %d", id)
	}
	r.snapshot()
	w.VerifiedCount = verified
	w.Verified = w.Processed && verified == w.Migrated
	w.Unverified = false
	r.s.windows[id] = w
	return w, nil
}

func (r *repo) MarkDeleted(_ context.Context, id, deleted int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.windows[id]
	if !ok {
		return perr.NotFoundf("window %d", id)
	}
	r.snapshot()
	w.Deleted = true
	w.DeletedCount = &deleted
	r.s.windows[id] = w
	return nil
}

func (r *repo) MarkUnverified(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.windows[id]
	if !ok {
		return perr.NotFoundf("window %d", id)
	}
	r.snapshot()
	w.Unverified = true
	r.s.windows[id] = w
	return nil
}

func (r *repo) ClearWindows(_ context.Context, stage string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.snapshot()
	r.clearLocked(stage)
	return nil
}

func (r *repo) clearLocked(stage string) {
	for id, w := range r.s.windows {
		if w.Stage == stage {
			delete(r.s.windows, id)
		}
	}
	for k := range r.s.totals {
		if k.stage == stage {
			delete(r.s.totals, k)
		}
	}
}

func (r *repo) ResetStage(_ context.Context, stage string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.snapshot()
	r.clearLocked(stage)
	delete(r.s.checkpoints, stage)
	return nil
}

func (r *repo) ResetAll(_ context.Context) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.snapshot()
	r.s.checkpoints = map[string]domain.Checkpoint{}
	r.s.totals = map[totalKey]domain.Total{}
	r.s.windows = map[int64]window.Window{}
	r.s.nextID = 0
	r.s.resets++
	return nil
}
