// Package service implements the concept mapper: every observed
// (code, vocabulary, domain) resolves to exactly one concept id, with 0 for
// codes the reference vocabulary does not know
package service

import (
	"context"
	"sort"

	"clinicaletl/internal/core/codes"
	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/modkit/repokit"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
	"clinicaletl/internal/platform/store"
	"clinicaletl/internal/services/concept/domain"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/guregu/null.v3"
)

// Config holds concept mapper tuning
type Config struct {
	CacheSize int // resolved keys kept in memory; <=0 disables the cache
}

// Service implements domain.Ports and the concept stage worker
type Service struct {
	db     repokit.TxRunner
	binder repokit.Binder[domain.Repo]
	cache  *cache
}

var _ domain.Ports = (*Service)(nil)

// New constructs the concept service
func New(db repokit.TxRunner, binder repokit.Binder[domain.Repo], cfg Config) *Service {
	if db == nil {
		panic("concept.Service requires a non-nil TxRunner")
	}
	if binder == nil {
		panic("concept.Service requires a non-nil Repo binder")
	}
	return &Service{db: db, binder: binder, cache: newCache(cfg.CacheSize)}
}

// Normalize puts a key in the form mappings are stored under
func Normalize(k domain.Key) domain.Key {
	return domain.Key{
		Code:       codes.Code(k.Code),
		Vocabulary: codes.Vocabulary(k.Vocabulary),
		Domain:     codes.Domain(k.Domain),
	}
}

// Resolve returns the concept for one code, or domain.Unmapped
func (s *Service) Resolve(ctx context.Context, code, vocabulary, dom string) (int64, error) {
	k := domain.Key{Code: code, Vocabulary: vocabulary, Domain: dom}
	m, err := s.ResolveMany(ctx, []domain.Key{k})
	if err != nil {
		return domain.Unmapped, err
	}
	return m[k], nil
}

// ResolveMany resolves every key. The result holds an entry for each input
// key as given; keys without a stored mapping get domain.Unmapped
func (s *Service) ResolveMany(ctx context.Context, keys []domain.Key) (map[domain.Key]int64, error) {
	out := make(map[domain.Key]int64, len(keys))
	norm := make(map[domain.Key]domain.Key, len(keys))
	var misses []domain.Key
	missSet := mapset.NewThreadUnsafeSet[domain.Key]()

	for _, raw := range keys {
		n := Normalize(raw)
		norm[raw] = n
		out[raw] = domain.Unmapped
		if n.Code == "" {
			continue
		}
		if v, ok := s.cache.get(n); ok {
			out[raw] = v
			continue
		}
		if missSet.Add(n) {
			misses = append(misses, n)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	var found map[domain.Key]int64
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		found, err = s.binder.Bind(q).Mapped(ctx, misses)
		return err
	})
	if err != nil {
		return nil, err
	}
	for k, v := range found {
		s.cache.put(k, v)
	}
	for raw, n := range norm {
		if v, ok := found[n]; ok {
			out[raw] = v
		}
	}
	return out, nil
}

// Forget drops cached resolutions, used after a reset wipes concept_map
func (s *Service) Forget() { s.cache.reset() }

// Unmapped reports sentinel mappings per vocabulary and domain
func (s *Service) Unmapped(ctx context.Context) ([]domain.UnmappedCount, error) {
	var out []domain.UnmappedCount
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		out, err = s.binder.Bind(q).Unmapped(ctx)
		return err
	})
	return out, err
}

// Extent returns the key extent of the code source behind scope
func (s *Service) Extent(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope) (window.Extent, error) {
	var e window.Extent
	err := store.RunReadOnly(ctx, s.db, func(ctx context.Context, q repokit.Queryer) error {
		var err error
		e, err = s.binder.Bind(q).Extent(ctx, sc.Source)
		return err
	})
	return e, err
}

// Window maps every code observed in one window of a code source that has
// no mapping yet. Unmatched codes get a sentinel row and count as gaps
func (s *Service) Window(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (window.Counts, error) {
	src, ok := codeSource(st, sc)
	if !ok {
		return window.Counts{}, perr.InvalidArgf("concept: stage %s has no source %s", st.Name, sc.Name)
	}

	var c window.Counts
	err := s.db.Tx(ctx, func(q repokit.Queryer) error {
		c = window.Counts{}
		repo := s.binder.Bind(q)

		raw, err := repo.WindowCodes(ctx, src, w.Range)
		if err != nil {
			return err
		}
		keys := normalizeAll(raw)
		c.Read = int64(len(keys))

		mapped, err := repo.Mapped(ctx, keys)
		if err != nil {
			return err
		}
		var missing []domain.Key
		for _, k := range keys {
			if _, ok := mapped[k]; !ok {
				missing = append(missing, k)
			}
		}
		c.Existing = c.Read - int64(len(missing))

		ms, err := s.match(ctx, repo, missing)
		if err != nil {
			return err
		}
		n, err := repo.Insert(ctx, ms)
		if err != nil {
			return err
		}
		c.Inserted = n
		for _, m := range ms {
			if m.ConceptID == domain.Unmapped {
				c.Gaps++
			}
		}
		return window.RunHooks(ctx, q, c, hooks...)
	})
	if err != nil {
		return window.Counts{}, err
	}
	logger.C(ctx).Debug().Str("source", src.Table).Stringer("window", w.Range).
		Int64("codes", c.Read).Int64("created", c.Inserted).Int64("unmapped", c.Gaps).
		Msg("concept: window mapped")
	return c, nil
}

// match picks one canonical target per key, fetching candidates once per
// vocabulary. Keys without candidates map to the sentinel
func (s *Service) match(ctx context.Context, repo domain.Repo, keys []domain.Key) ([]domain.Mapping, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	byVocab := map[string][]string{}
	var vocabs []string
	for _, k := range keys {
		if _, ok := byVocab[k.Vocabulary]; !ok {
			vocabs = append(vocabs, k.Vocabulary)
		}
		byVocab[k.Vocabulary] = append(byVocab[k.Vocabulary], k.Code)
	}

	cands := map[[2]string][]domain.Candidate{}
	for _, v := range vocabs {
		cs, err := repo.Candidates(ctx, v, mapset.NewThreadUnsafeSet(byVocab[v]...).ToSlice())
		if err != nil {
			return nil, err
		}
		for _, c := range cs {
			ck := [2]string{v, c.Code}
			cands[ck] = append(cands[ck], c)
		}
	}

	out := make([]domain.Mapping, 0, len(keys))
	for _, k := range keys {
		m := domain.Mapping{Key: k, ConceptID: domain.Unmapped}
		if best, ok := Choose(cands[[2]string{k.Vocabulary, k.Code}], k.Domain); ok {
			m.ConceptID = best.ConceptID
			m.TargetVocabulary = null.StringFrom(best.Vocabulary)
			m.ValidStart = best.ValidStart
			m.ValidEnd = best.ValidEnd
		}
		out = append(out, m)
	}
	return out, nil
}

// Choose picks the canonical candidate for a domain: same domain first, then
// standard concepts, then valid ones, then the lowest concept id
func Choose(cands []domain.Candidate, dom string) (domain.Candidate, bool) {
	if len(cands) == 0 {
		return domain.Candidate{}, false
	}
	cs := append([]domain.Candidate(nil), cands...)
	rank := func(c domain.Candidate) [3]int {
		var r [3]int
		if codes.Domain(c.Domain) != dom {
			r[0] = 1
		}
		if c.Standard != "S" {
			r[1] = 1
		}
		if c.InvalidReason != "" {
			r[2] = 1
		}
		return r
	}
	sort.SliceStable(cs, func(i, j int) bool {
		ri, rj := rank(cs[i]), rank(cs[j])
		for x := range ri {
			if ri[x] != rj[x] {
				return ri[x] < rj[x]
			}
		}
		return cs[i].ConceptID < cs[j].ConceptID
	})
	return cs[0], true
}

func normalizeAll(raw []domain.Key) []domain.Key {
	seen := mapset.NewThreadUnsafeSetWithSize[domain.Key](len(raw))
	out := make([]domain.Key, 0, len(raw))
	for _, k := range raw {
		n := Normalize(k)
		if n.Code == "" {
			continue
		}
		if seen.Add(n) {
			out = append(out, n)
		}
	}
	return out
}

func codeSource(st *pipeline.Stage, sc pipeline.Scope) (pipeline.CodeSource, bool) {
	if st == nil || st.Concept == nil {
		return pipeline.CodeSource{}, false
	}
	for _, src := range st.Concept.Sources {
		if src.Table == sc.Name {
			return src, true
		}
	}
	return pipeline.CodeSource{}, false
}
