// Package memrepo is an in-memory transform repo for tests. Tables hold text
// rows keyed by an integer, so a target written by one stage can be the
// source of the next. Writes are undone when the fakedb transaction rolls back
package memrepo

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	"clinicaletl/internal/platform/testkit/fakedb"
	"clinicaletl/internal/services/transform/domain"
)

// Store holds tables and the row error side table
type Store struct {
	mu      sync.Mutex
	tables  map[string][]domain.SourceRow
	errors  []domain.RowError
	ensured map[string]bool

	// InsertErr fails the next Insert when set
	InsertErr error
}

// New returns an empty store
func New() *Store {
	return &Store{tables: map[string][]domain.SourceRow{}, ensured: map[string]bool{}}
}

// Binder binds the store to a fake transaction
func (s *Store) Binder() repokit.Binder[domain.Repo] {
	return repokit.BindFunc[domain.Repo](func(q repokit.Queryer) domain.Repo { return &repo{s: s, q: q} })
}

// Add appends rows to table. Values are copied from pairs of column, text;
// an odd trailing column is NULL
func (s *Store) Add(table string, key int64, pairs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := map[string]*string{}
	for i := 0; i < len(pairs); i += 2 {
		if i+1 < len(pairs) {
			v := pairs[i+1]
			vals[pairs[i]] = &v
		} else {
			vals[pairs[i]] = nil
		}
	}
	s.tables[table] = append(s.tables[table], domain.SourceRow{Key: key, Values: vals})
	sort.Slice(s.tables[table], func(i, j int) bool { return s.tables[table][i].Key < s.tables[table][j].Key })
}

// Rows returns a copy of table
func (s *Store) Rows(table string) []domain.SourceRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SourceRow(nil), s.tables[table]...)
}

// Set overwrites one column of the row with key in table
func (s *Store) Set(table string, key int64, col, val string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.tables[table] {
		if r.Key == key {
			vals := make(map[string]*string, len(r.Values))
			for k, v := range r.Values {
				vals[k] = v
			}
			vals[col] = &val
			s.tables[table][i].Values = vals
		}
	}
}

// Ensured reports whether EnsureTarget ran for table
func (s *Store) Ensured(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensured[table]
}

// RowErrors returns the recorded row errors
func (s *Store) RowErrors() []domain.RowError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RowError(nil), s.errors...)
}

// Delete removes rows of table whose key column text is in keys, through
// q so a rollback restores them
func (s *Store) Delete(q repokit.Queryer, table, keyCol string, keys []int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[int64]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	s.snapshot(q, table)
	kept := s.tables[table][:0:0]
	var n int64
	for _, r := range s.tables[table] {
		if drop[r.Key] {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.tables[table] = kept
	return n
}

func (s *Store) snapshot(q repokit.Queryer, table string) {
	prev := append([]domain.SourceRow(nil), s.tables[table]...)
	fakedb.OnRollback(q, func() {
		s.mu.Lock()
		s.tables[table] = prev
		s.mu.Unlock()
	})
}

type repo struct {
	s *Store
	q repokit.Queryer
}

var _ domain.Repo = (*repo)(nil)

func (r *repo) EnsureTarget(_ context.Context, t domain.Target) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.ensured[t.Spec.Target] = true
	return nil
}

func (r *repo) Extent(_ context.Context, src pipeline.Source) (window.Extent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.s.tables[src.Table]
	if len(rows) == 0 {
		return window.Extent{}, nil
	}
	return window.Extent{Min: rows[0].Key, Max: rows[len(rows)-1].Key + 1, Total: int64(len(rows))}, nil
}

func (r *repo) Page(_ context.Context, t domain.Target, w window.Range, limit int) ([]domain.SourceRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.SourceRow
	for _, row := range r.s.tables[t.Spec.Source.Table] {
		if w.Contains(row.Key) {
			out = append(out, row)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *repo) Insert(_ context.Context, t domain.Target, recs []domain.Record) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.InsertErr; err != nil {
		r.s.InsertErr = nil
		return 0, err
	}
	table := t.Spec.Target
	prev := len(r.s.tables[table])
	fakedb.OnRollback(r.q, func() {
		r.s.mu.Lock()
		r.s.tables[table] = r.s.tables[table][:prev]
		r.s.mu.Unlock()
	})

	exists := map[domain.ExistenceKey]bool{}
	for _, row := range r.s.tables[table] {
		exists[rowKey(row)] = true
	}
	cols := t.ColumnKinds()
	next := int64(len(r.s.tables[table])) + 1
	if n := len(r.s.tables[table]); n > 0 {
		next = r.s.tables[table][n-1].Key + 1
	}
	var n int64
	for _, rec := range recs {
		if exists[rec.Key()] {
			continue
		}
		exists[rec.Key()] = true
		vals := make(map[string]*string, len(cols))
		for col := range cols {
			v, _ := rec.Value(col)
			vals[col] = v.Ptr()
		}
		r.s.tables[table] = append(r.s.tables[table], domain.SourceRow{Key: next, Values: vals})
		next++
		n++
	}
	return n, nil
}

func rowKey(row domain.SourceRow) domain.ExistenceKey {
	subject, _ := strconv.ParseInt(row.Text(domain.ColSubjectKey), 10, 64)
	return domain.ExistenceKey{Subject: subject, Time: row.Text(domain.ColEventTime), Code: row.Text(domain.ColSourceCode)}
}

func (r *repo) RecordErrors(_ context.Context, errs []domain.RowError) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	type key struct{ stage, scope, nk, kind, col string }
	have := map[key]bool{}
	for _, e := range r.s.errors {
		have[key{e.Stage, e.Scope, e.NaturalKey, string(e.Kind), e.Column}] = true
	}
	prev := len(r.s.errors)
	for _, e := range errs {
		k := key{e.Stage, e.Scope, e.NaturalKey, string(e.Kind), e.Column}
		if !have[k] {
			have[k] = true
			r.s.errors = append(r.s.errors, e)
		}
	}
	fakedb.OnRollback(r.q, func() {
		r.s.mu.Lock()
		r.s.errors = r.s.errors[:prev]
		r.s.mu.Unlock()
	})
	return nil
}

func (r *repo) Errors(_ context.Context, stage string, limit int) ([]domain.RowError, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.RowError
	for _, e := range r.s.errors {
		if e.Stage == stage && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}
