// Package service implements the batch transformer: one window of source
// rows becomes target records in one transaction, resolving surrogates and
// concepts through read only lookups
package service

import (
	"context"
	"strconv"
	"time"

	"clinicaletl/internal/core/codes"
	"clinicaletl/internal/core/derive"
	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	"clinicaletl/internal/platform/store"
	conceptdomain "clinicaletl/internal/services/concept/domain"
	identdomain "clinicaletl/internal/services/identity/domain"
	"clinicaletl/internal/services/transform/domain"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/guregu/null.v3"
)

// Config holds transformer tuning
type Config struct {
	PageSize int            // source rows read per query inside a window
	Location *time.Location // zone for timestamps without one; nil = UTC
}

// Service implements domain.Ports and the transform stage worker
type Service struct {
	db       repokit.TxRunner
	binder   repokit.Binder[domain.Repo]
	idents   identdomain.ReadPort
	concepts conceptdomain.ReadPort
	derive   *derive.Deriver
	pageSize int
}

var _ domain.Ports = (*Service)(nil)

// New constructs the transform service
func New(
	db repokit.TxRunner,
	binder repokit.Binder[domain.Repo],
	idents identdomain.ReadPort,
	concepts conceptdomain.ReadPort,
	cfg Config,
) *Service {
	if db == nil {
		panic("transform.Service requires a non-nil TxRunner")
	}
	if binder == nil {
		panic("transform.Service requires a non-nil Repo binder")
	}
	if idents == nil || concepts == nil {
		panic("transform.Service requires identity and concept read ports")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5000
	}
	return &Service{
		db:       db,
		binder:   binder,
		idents:   idents,
		concepts: concepts,
		derive:   derive.New(derive.Options{Location: cfg.Location}),
		pageSize: cfg.PageSize,
	}
}

func target(st *pipeline.Stage) (domain.Target, error) {
	if st == nil || st.Transform == nil {
		return domain.Target{}, perr.InvalidArgf("transform: stage has no transform block")
	}
	return domain.Target{Spec: st.Transform, Carried: st.Kind == pipeline.KindRelocate}, nil
}

// EnsureTarget creates the stage's target table if missing
func (s *Service) EnsureTarget(ctx context.Context, st *pipeline.Stage) error {
	t, err := target(st)
	if err != nil {
		return err
	}
	return s.db.Tx(ctx, func(q repokit.Queryer) error {
		return s.binder.Bind(q).EnsureTarget(ctx, t)
	})
}

// Extent returns the key range and row count of the stage source
func (s *Service) Extent(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope) (window.Extent, error) {
	var e window.Extent
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		e, err = s.binder.Bind(q).Extent(ctx, sc.Source)
		return err
	})
	return e, err
}

// Window transforms the source rows in w and runs hooks before commit.
// Row level failures are recorded in the row error table and skipped; any
// other error rolls the whole window back
func (s *Service) Window(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (window.Counts, error) {
	t, err := target(st)
	if err != nil {
		return window.Counts{}, err
	}
	if sc.Name != t.Spec.EntityType {
		return window.Counts{}, perr.InvalidArgf("transform: stage %s has no scope %s", st.Name, sc.Name)
	}
	w.Stage, w.Scope = st.Name, sc.Name

	var c window.Counts
	err = s.db.Tx(ctx, func(q repokit.Queryer) error {
		c = window.Counts{}
		repo := s.binder.Bind(q)
		seen := mapset.NewThreadUnsafeSet[domain.ExistenceKey]()

		err := s.scan(ctx, repo, t, w, func(ds []domain.Derived) error {
			var (
				recs []domain.Record
				errs []domain.RowError
			)
			for _, d := range ds {
				c.Read++
				if d.Record == nil {
					c.Errors++
					errs = append(errs, d.Errors...)
					continue
				}
				if d.Record.ConceptID == conceptdomain.Unmapped {
					c.Gaps++
				}
				if !seen.Add(d.Record.Key()) {
					c.Existing++
					continue
				}
				recs = append(recs, *d.Record)
			}
			n, err := repo.Insert(ctx, t, recs)
			if err != nil {
				return err
			}
			c.Inserted += n
			c.Existing += int64(len(recs)) - n
			return repo.RecordErrors(ctx, errs)
		})
		if err != nil {
			return err
		}
		return window.RunHooks(ctx, q, c, hooks...)
	})
	if err != nil {
		return window.Counts{}, err
	}
	logger.C(ctx).Debug().Str("entity_type", sc.Name).Stringer("window", w.Range).
		Int64("read", c.Read).Int64("inserted", c.Inserted).Int64("existing", c.Existing).
		Int64("errors", c.Errors).Int64("unmapped", c.Gaps).
		Msg("transform: window committed")
	return c, nil
}

// Scan reads the source rows of r through q page by page and hands each page
// to fn already derived. Nothing is written
func (s *Service) Scan(ctx context.Context, q store.RowQuerier, st *pipeline.Stage, r window.Range, fn func([]domain.Derived) error) error {
	t, err := target(st)
	if err != nil {
		return err
	}
	w := window.Window{Stage: st.Name, Scope: t.Spec.EntityType, Range: r}
	return s.scan(ctx, s.binder.Bind(q), t, w, fn)
}

// scan pages by key with one row of lookahead. Keys must be unique: paging
// resumes after the last key, so a repeated key would drop rows
func (s *Service) scan(ctx context.Context, repo domain.Repo, t domain.Target, w window.Window, fn func([]domain.Derived) error) error {
	next := w.Range
	for !next.Empty() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := repo.Page(ctx, t, next, s.pageSize+1)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for i := 1; i < len(rows); i++ {
			if rows[i].Key <= rows[i-1].Key {
				return perr.Integrityf("transform: %s.%s is not unique (key %d repeats)",
					t.Spec.Source.Table, t.Spec.Source.KeyColumn, rows[i].Key)
			}
		}
		more := len(rows) > s.pageSize
		if more {
			rows = rows[:s.pageSize]
		}
		ds, err := s.deriveRows(ctx, t, w, rows)
		if err != nil {
			return err
		}
		if err := fn(ds); err != nil {
			return err
		}
		if !more {
			return nil
		}
		next.Min = rows[len(rows)-1].Key + 1
	}
	return nil
}

// lookups holds the surrogates and concepts of one page
type lookups struct {
	idents   map[string]map[string]int64 // entity type -> natural key -> surrogate
	concepts map[conceptdomain.Key]int64
}

func (s *Service) resolve(ctx context.Context, t domain.Target, rows []domain.SourceRow) (lookups, error) {
	spec := t.Spec
	lk := lookups{idents: map[string]map[string]int64{}}

	if !t.Carried {
		wanted := map[string]mapset.Set[string]{}
		want := func(entity, key string) {
			if key == "" {
				return
			}
			if wanted[entity] == nil {
				wanted[entity] = mapset.NewThreadUnsafeSet[string]()
			}
			wanted[entity].Add(key)
		}
		for _, r := range rows {
			want(spec.Subject.EntityType, naturalRef(r, spec.Subject.Column))
			for _, ref := range spec.References {
				want(ref.EntityType, naturalRef(r, ref.Column))
			}
		}
		for entity, keys := range wanted {
			m, err := s.idents.LookupMany(ctx, entity, keys.ToSlice())
			if err != nil {
				return lk, err
			}
			lk.idents[entity] = m
		}
	}

	if !spec.Code.Carried() {
		keys := make([]conceptdomain.Key, 0, len(rows))
		for _, r := range rows {
			keys = append(keys, codeKey(spec.Code, r))
		}
		m, err := s.concepts.ResolveMany(ctx, keys)
		if err != nil {
			return lk, err
		}
		lk.concepts = m
	}
	return lk, nil
}

// naturalRef is the natural key text in col; blank values count as missing
func naturalRef(r domain.SourceRow, col string) string {
	if r.Text(col) == "" {
		return ""
	}
	return r.Raw(col)
}

func codeKey(c pipeline.CodeSpec, r domain.SourceRow) conceptdomain.Key {
	k := conceptdomain.Key{Code: r.Raw(c.Column), Vocabulary: c.Vocabulary, Domain: c.Domain}
	if c.VocabularyColumn != "" {
		k.Vocabulary = r.Raw(c.VocabularyColumn)
	}
	if c.DomainColumn != "" {
		k.Domain = r.Raw(c.DomainColumn)
	}
	return k
}

func (s *Service) deriveRows(ctx context.Context, t domain.Target, w window.Window, rows []domain.SourceRow) ([]domain.Derived, error) {
	lk, err := s.resolve(ctx, t, rows)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Derived, 0, len(rows))
	for _, r := range rows {
		d := s.deriveRow(t, w, lk, r)
		if len(d.Errors) > 0 {
			logRowErrors(ctx, d.Errors)
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Service) deriveRow(t domain.Target, w window.Window, lk lookups, r domain.SourceRow) domain.Derived {
	spec := t.Spec
	nk := r.Text(spec.NaturalKeyColumn())
	if nk == "" {
		nk = strconv.FormatInt(r.Key, 10)
	}
	d := domain.Derived{Key: r.Key, NaturalKey: nk}

	fail := func(kind domain.ErrorKind, col, msg string) {
		e := domain.RowError{
			Stage: w.Stage, Scope: w.Scope, NaturalKey: nk,
			Kind: kind, Column: col, Raw: null.StringFromPtr(r.Values[col]), Message: msg,
		}
		if w.ID > 0 {
			e.WindowID = null.IntFrom(w.ID)
		}
		d.Errors = append(d.Errors, e)
	}

	rec := domain.Record{SourceKey: nk, Refs: make(map[string]null.Int, len(spec.References))}

	subject, ok := s.surrogate(t, lk, spec.Subject, r, fail)
	if ok && !subject.Valid {
		fail(domain.ErrorDataQuality, spec.Subject.Column, "missing subject key")
	}
	rec.SubjectKey = subject.Int64

	for _, ref := range spec.References {
		v, ok := s.surrogate(t, lk, ref, r, fail)
		if ok && !v.Valid && ref.Required {
			fail(domain.ErrorDataQuality, ref.Column, "missing required reference")
		}
		rec.Refs[ref.ReferenceColumn()] = v
	}

	tf := derive.Field{Name: domain.ColEventTime, Column: spec.Time.Column, Kind: spec.TimeKind(), Required: true}
	tv, err := s.derive.Coerce(tf, r.Values[spec.Time.Column])
	if err != nil {
		fail(domain.ErrorDataQuality, spec.Time.Column, reason(err))
	}
	rec.EventTime = tv

	rec.SourceCode = codes.Code(r.Raw(spec.Code.Column))
	if spec.Code.Carried() {
		if raw := r.Text(spec.Code.ConceptColumn); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id < 0 {
				fail(domain.ErrorDataQuality, spec.Code.ConceptColumn, "concept id is not an integer")
			}
			rec.ConceptID = id
		}
	} else {
		rec.ConceptID = lk.concepts[codeKey(spec.Code, r)]
	}

	fields, errs := s.derive.Row(spec.DeriveFields(), r.Values)
	for _, err := range errs {
		col := ""
		if fe, ok := derive.AsFieldError(err); ok {
			col = fe.Column
		}
		fail(domain.ErrorDataQuality, col, reason(err))
	}
	rec.Fields = fields

	if len(d.Errors) == 0 {
		d.Record = &rec
	}
	return d
}

// surrogate resolves one reference column. ok is false when a row error was
// recorded; an invalid result with ok means the column was empty
func (s *Service) surrogate(
	t domain.Target, lk lookups, ref pipeline.Reference, r domain.SourceRow,
	fail func(domain.ErrorKind, string, string),
) (null.Int, bool) {
	raw := naturalRef(r, ref.Column)
	if raw == "" {
		return null.Int{}, true
	}
	if t.Carried {
		id, err := strconv.ParseInt(r.Text(ref.Column), 10, 64)
		if err != nil || id <= 0 {
			fail(domain.ErrorDataQuality, ref.Column, "surrogate is not a positive integer")
			return null.Int{}, false
		}
		return null.IntFrom(id), true
	}
	id, found := lk.idents[ref.EntityType][raw]
	if !found {
		fail(domain.ErrorIntegrity, ref.Column, "no "+ref.EntityType+" surrogate for natural key")
		return null.Int{}, false
	}
	return null.IntFrom(id), true
}

func reason(err error) string {
	if fe, ok := derive.AsFieldError(err); ok {
		return fe.Reason
	}
	return err.Error()
}

func logRowErrors(ctx context.Context, errs []domain.RowError) {
	for _, e := range errs {
		ev := logger.C(ctx).Debug()
		if e.Kind == domain.ErrorIntegrity {
			ev = logger.C(ctx).Warn()
		}
		ev.Str("natural_key", e.NaturalKey).Str("column", e.Column).Str("kind", string(e.Kind)).
			Msg("transform: row skipped: " + e.Message)
	}
}

// Errors lists recorded row errors of a stage
func (s *Service) Errors(ctx context.Context, stage string, limit int) ([]domain.RowError, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.RowError
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		out, err = s.binder.Bind(q).Errors(ctx, stage, limit)
		return err
	})
	return out, err
}
