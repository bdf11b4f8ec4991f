package pipeline

import (
	"sort"
	"strings"

	perr "clinicaletl/internal/platform/errors"

	mapset "github.com/deckarep/golang-set/v2"
)

// Deps returns the effective dependencies of a stage: the declared ones plus
// the barrier edges from every mapping stage onto transform and relocate
// stages. Order follows declaration
func (p *Pipeline) Deps(name string) []string {
	s, ok := p.Stage(name)
	if !ok {
		return nil
	}
	set := mapset.NewThreadUnsafeSet(s.DependsOn...)
	if !s.Kind.IsMapping() {
		for _, o := range p.Stages {
			if o.Kind.IsMapping() {
				set.Add(o.Name)
			}
		}
	}
	out := make([]string, 0, set.Cardinality())
	for _, o := range p.Stages {
		if set.Contains(o.Name) {
			out = append(out, o.Name)
		}
	}
	return out
}

// Order returns stage names in dependency order. Among ready stages the one
// declared first goes first
func (p *Pipeline) Order() ([]string, error) {
	n := len(p.Stages)
	indeg := make([]int, n)
	next := make([][]int, n)
	for i, s := range p.Stages {
		for _, d := range p.Deps(s.Name) {
			j := p.Index(d)
			if j < 0 {
				return nil, stageErr(s.Name, "unknown dependency %q", d)
			}
			indeg[i]++
			next[j] = append(next[j], i)
		}
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]string, 0, n)
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		out = append(out, p.Stages[i].Name)
		for _, j := range next[i] {
			indeg[j]--
			if indeg[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	if len(out) != n {
		var stuck []string
		for i := 0; i < n; i++ {
			if indeg[i] > 0 {
				stuck = append(stuck, p.Stages[i].Name)
			}
		}
		return nil, perr.Newf(perr.ErrorCodeValidation, "pipeline: dependency cycle among %s", strings.Join(stuck, ", "))
	}
	return out, nil
}

// Dependents returns every stage that transitively depends on name
func (p *Pipeline) Dependents(name string) mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	frontier := []string{name}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, s := range p.Stages {
			if out.Contains(s.Name) {
				continue
			}
			for _, d := range p.Deps(s.Name) {
				if d == cur {
					out.Add(s.Name)
					frontier = append(frontier, s.Name)
					break
				}
			}
		}
	}
	return out
}
