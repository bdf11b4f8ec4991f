// Package service implements the identity mapper: dense, monotonic surrogate
// keys assigned to opaque natural keys exactly once
package service

import (
	"context"
	"strconv"
	"time"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	"clinicaletl/internal/platform/backoff"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	"clinicaletl/internal/platform/store"
	"clinicaletl/internal/services/identity/domain"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/singleflight"
)

// Config holds identity tuning
type Config struct {
	Retry backoff.Policy // applied to GetOrCreate*; windows are retried by the runner
}

// Service implements domain.Ports and the identity stage worker
type Service struct {
	db     repokit.TxRunner
	binder repokit.Binder[domain.Repo]
	cfg    Config
	flight singleflight.Group
}

var _ domain.Ports = (*Service)(nil)

// New constructs the identity service
func New(db repokit.TxRunner, binder repokit.Binder[domain.Repo], cfg Config) *Service {
	if db == nil {
		panic("identity.Service requires a non-nil TxRunner")
	}
	if binder == nil {
		panic("identity.Service requires a non-nil Repo binder")
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 5
	}
	return &Service{db: db, binder: binder, cfg: cfg}
}

// GetOrCreate returns the surrogate for naturalKey, assigning the next one
// when the key was never seen. Concurrent calls for the same key in this
// process share one database round trip; the shared call is detached from
// any single caller so one cancellation does not fail the others
func (s *Service) GetOrCreate(ctx context.Context, entityType, naturalKey string) (int64, error) {
	if naturalKey == "" {
		return 0, perr.InvalidArgf("identity: empty natural key for %s", entityType)
	}
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(entityType+"\x00"+naturalKey, func() (any, error) {
		m, err := s.GetOrCreateMany(shared, entityType, []string{naturalKey})
		if err != nil {
			return int64(0), err
		}
		return m[naturalKey], nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return 0, r.Err
		}
		return r.Val.(int64), nil
	}
}

// GetOrCreateMany maps every key, creating the missing ones in first-seen
// order as one contiguous surrogate range
func (s *Service) GetOrCreateMany(ctx context.Context, entityType string, keys []string) (map[string]int64, error) {
	if entityType == "" {
		return nil, perr.InvalidArgf("identity: empty entity type")
	}
	uniq, err := dedupe(keys)
	if err != nil {
		return nil, err
	}
	if len(uniq) == 0 {
		return map[string]int64{}, nil
	}

	var out map[string]int64
	err = backoff.Retry(ctx, s.cfg.Retry, perr.IsRetryable,
		func(attempt int, err error, wait time.Duration) {
			logger.C(ctx).Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).
				Str("entity_type", entityType).Msg("identity: retrying get-or-create")
		},
		func(ctx context.Context) error {
			return s.db.Tx(ctx, func(q repokit.Queryer) error {
				m, _, err := s.ensure(ctx, s.binder.Bind(q), entityType, uniq)
				out = m
				return err
			})
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ensure maps keys inside the caller's transaction. Keys must be unique
func (s *Service) ensure(ctx context.Context, r domain.Repo, entityType string, keys []string) (map[string]int64, int64, error) {
	found, err := r.Lookup(ctx, entityType, keys)
	if err != nil {
		return nil, 0, err
	}
	missing := setDiff(keys, found)
	if len(missing) == 0 {
		return found, 0, nil
	}

	last, err := r.LockCounter(ctx, entityType)
	if err != nil {
		return nil, 0, err
	}

	// another writer may have mapped some of them before we got the lock
	again, err := r.Lookup(ctx, entityType, missing)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range again {
		found[k] = v
	}
	missing = setDiff(missing, again)
	if len(missing) == 0 {
		return found, 0, nil
	}

	n, err := r.Insert(ctx, entityType, missing, last+1)
	if err != nil {
		return nil, 0, err
	}
	if n != int64(len(missing)) {
		// holding the counter lock, a conflict means a writer bypassed it
		return nil, 0, perr.Integrityf("identity: %s inserted %d of %d keys under counter lock", entityType, n, len(missing))
	}
	if err := r.AdvanceCounter(ctx, entityType, last+n); err != nil {
		return nil, 0, err
	}
	for i, k := range missing {
		found[k] = last + 1 + int64(i)
	}
	return found, n, nil
}

// Lookup returns the surrogate for naturalKey without creating one
func (s *Service) Lookup(ctx context.Context, entityType, naturalKey string) (int64, bool, error) {
	m, err := s.LookupMany(ctx, entityType, []string{naturalKey})
	if err != nil {
		return 0, false, err
	}
	v, ok := m[naturalKey]
	return v, ok, nil
}

// LookupMany returns the surrogates that exist for keys; absent keys are omitted
func (s *Service) LookupMany(ctx context.Context, entityType string, keys []string) (map[string]int64, error) {
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	var out map[string]int64
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		m, err := s.binder.Bind(q).Lookup(ctx, entityType, keys)
		out = m
		return err
	})
	return out, err
}

// Extent returns the key extent of the identity source behind scope
func (s *Service) Extent(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope) (window.Extent, error) {
	var e window.Extent
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		e, err = s.binder.Bind(q).Extent(ctx, sc.Source)
		return err
	})
	return e, err
}

// Window maps the natural keys first seen in one window of a source table.
// Windows ascend, so surrogates follow first-seen order across the table
func (s *Service) Window(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (window.Counts, error) {
	src, ok := identitySource(st, sc)
	if !ok {
		return window.Counts{}, perr.InvalidArgf("identity: stage %s has no source %s", st.Name, sc.Name)
	}
	entityType := st.Identity.EntityType

	var c window.Counts
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		c = window.Counts{}
		repo := s.binder.Bind(q)
		keys, err := repo.WindowKeys(ctx, src, w.Range)
		if err != nil {
			return err
		}
		_, created, err := s.ensure(ctx, repo, entityType, keys)
		if err != nil {
			return err
		}
		c.Read = int64(len(keys))
		c.Inserted = created
		c.Existing = c.Read - created
		return window.RunHooks(ctx, q, c, hooks...)
	})
	if err != nil {
		return window.Counts{}, err
	}
	logger.C(ctx).Debug().Str("entity_type", entityType).Str("source", src.Table).
		Stringer("window", w.Range).Int64("keys", c.Read).Int64("created", c.Inserted).
		Msg("identity: window mapped")
	return c, nil
}

// Audit checks that every observed key is mapped and that surrogates are
// dense. An inconsistent mapping is returned along with an integrity error
func (s *Service) Audit(ctx context.Context, entityType string, sources []pipeline.IdentitySource) (domain.Audit, error) {
	var a domain.Audit
	err := store.RunSnapshot(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		a, err = s.binder.Bind(q).Audit(ctx, entityType, sources)
		return err
	})
	if err != nil {
		return a, err
	}
	if !a.Consistent() {
		return a, perr.Integrityf("identity audit %s: observed=%d missing=%d mapped=%d max=%d counter=%d",
			entityType, a.ObservedKeys, a.MissingKeys, a.MappedKeys, a.MaxSurrogate, a.Counter)
	}
	return a, nil
}

func identitySource(st *pipeline.Stage, sc pipeline.Scope) (pipeline.IdentitySource, bool) {
	if st == nil || st.Identity == nil {
		return pipeline.IdentitySource{}, false
	}
	for _, src := range st.Identity.Sources {
		if src.Table == sc.Name {
			return src, true
		}
	}
	return pipeline.IdentitySource{}, false
}

// dedupe drops repeats keeping first-seen order and rejects empty keys
func dedupe(keys []string) ([]string, error) {
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(keys))
	out := make([]string, 0, len(keys))
	for i, k := range keys {
		if k == "" {
			return nil, perr.WithField(perr.InvalidArgf("identity: empty natural key at %d", i), "keys["+strconv.Itoa(i)+"]")
		}
		if seen.Add(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// setDiff returns the keys absent from found, keeping order
func setDiff(keys []string, found map[string]int64) []string {
	have := mapset.NewThreadUnsafeSetWithSize[string](len(found))
	for k := range found {
		have.Add(k)
	}
	want := mapset.NewThreadUnsafeSet(keys...)
	missing := want.Difference(have)
	if missing.Cardinality() == 0 {
		return nil
	}
	out := make([]string, 0, missing.Cardinality())
	for _, k := range keys {
		if missing.Contains(k) {
			out = append(out, k)
		}
	}
	return out
}
