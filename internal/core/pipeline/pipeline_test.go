package pipeline

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"clinicaletl/internal/core/derive"
	perr "clinicaletl/internal/platform/errors"
)

func mustLoad(t *testing.T) *Pipeline {
	t.Helper()
	p, err := Load(filepath.Join("testdata", "pipeline.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return p
}

func TestLoad_Example(t *testing.T) {
	t.Parallel()

	p := mustLoad(t)
	if got := p.Names(); !reflect.DeepEqual(got, []string{"person_ids", "observation_concepts", "observations", "observations_final"}) {
		t.Fatalf("names %v", got)
	}
	obs, ok := p.Stage("observations")
	if !ok || obs.Kind != KindTransform || obs.Transform.Target != "stage.observation" {
		t.Fatalf("observations stage %+v", obs)
	}
	if obs.Transform.NaturalKeyColumn() != "obs_id" || obs.Transform.TimeKind() != derive.KindDateTime {
		t.Fatalf("defaults %q %q", obs.Transform.NaturalKeyColumn(), obs.Transform.TimeKind())
	}
	fields := obs.Transform.DeriveFields()
	if len(fields) != 2 || fields[1].Default != "unknown" || fields[1].MaxLen != 32 || fields[0].Kind != derive.KindNumeric {
		t.Fatalf("fields %+v", fields)
	}
	fin, _ := p.Stage("observations_final")
	if got := p.WindowSize(fin, 1000); got != 10000 {
		t.Fatalf("stage override %d", got)
	}
	if got := p.WindowSize(obs, 1000); got != 50000 {
		t.Fatalf("pipeline default %d", got)
	}
	if got := (&Pipeline{}).WindowSize(nil, 1000); got != 1000 {
		t.Fatalf("fallback %d", got)
	}
}

func TestScopes(t *testing.T) {
	t.Parallel()

	p := mustLoad(t)
	id, _ := p.Stage("person_ids")
	scopes := id.Scopes()
	if len(scopes) != 2 || scopes[0].Name != "src.patients" || scopes[1].Source.Table != "src.observations" {
		t.Fatalf("identity scopes %v", scopes)
	}
	tr, _ := p.Stage("observations")
	if s := tr.Scopes(); len(s) != 1 || s[0].Name != "observation" || s[0].Source.KeyColumn != "row_id" {
		t.Fatalf("transform scopes %v", s)
	}
}

func TestOrder_BarrierAndDeclarationTies(t *testing.T) {
	t.Parallel()

	p := mustLoad(t)
	order, err := p.Order()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	want := []string{"person_ids", "observation_concepts", "observations", "observations_final"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order %v want %v", order, want)
	}
	if d := p.Deps("observations"); !reflect.DeepEqual(d, []string{"person_ids", "observation_concepts"}) {
		t.Fatalf("barrier deps %v", d)
	}
	if d := p.Deps("person_ids"); len(d) != 0 {
		t.Fatalf("mapping stage deps %v", d)
	}
}

func TestDependents_Transitive(t *testing.T) {
	t.Parallel()

	p := mustLoad(t)
	got := p.Dependents("person_ids")
	for _, n := range []string{"observations", "observations_final"} {
		if !got.Contains(n) {
			t.Fatalf("missing dependent %s in %v", n, got)
		}
	}
	if got.Contains("observation_concepts") {
		t.Fatal("independent mapping stage must not be a dependent")
	}
	if p.Dependents("observations_final").Cardinality() != 0 {
		t.Fatal("leaf has no dependents")
	}
}

func TestOrder_DeclarationOrderWithoutEdges(t *testing.T) {
	t.Parallel()

	p := &Pipeline{Version: 1, Stages: []Stage{
		{Name: "c", Kind: KindConcept},
		{Name: "a", Kind: KindIdentity, DependsOn: []string{"b"}},
		{Name: "b", Kind: KindIdentity},
	}}
	order, err := p.Order()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, []string{"c", "b", "a"}) {
		t.Fatalf("order %v", order)
	}
}

const base = `
version: 1
stages:
  - name: ids
    kind: identity
    identity:
      entity_type: person
      sources: [{table: src.p, key_column: id, natural_key: pid}]
`

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", base + "    bogus: 1\n", "invalid pipeline yaml"},
		{"bad version", strings.Replace(base, "version: 1", "version: 2", 1), "version"},
		{"bad name", strings.Replace(base, "name: ids", "name: Ids", 1), "lower_snake_case"},
		{"bad kind", strings.Replace(base, "kind: identity", "kind: magic", 1), "kind"},
		{"bad ident", strings.Replace(base, "key_column: id", "key_column: \"id; drop\"", 1), "sql identifier"},
		{"missing block", strings.Replace(base, "kind: identity", "kind: concept", 1), "concept block"},
		{"unknown dep", base + "    depends_on: [nope]\n", "unknown dependency"},
		{"self dep", base + "    depends_on: [ids]\n", "depends on itself"},
		{"duplicate source", strings.Replace(base, "natural_key: pid}]", "natural_key: pid}, {table: src.p, key_column: id, natural_key: alt}]", 1), "listed twice"},
		{"duplicate names", base + `  - name: ids
    kind: identity
    identity:
      entity_type: person
      sources: [{table: src.q, key_column: id, natural_key: pid}]
`, "stages"},
		{"cycle", `
version: 1
stages:
  - name: a
    kind: identity
    depends_on: [b]
    identity: {entity_type: x, sources: [{table: t, key_column: id, natural_key: k}]}
  - name: b
    kind: identity
    depends_on: [a]
    identity: {entity_type: y, sources: [{table: t, key_column: id, natural_key: k}]}
`, "cycle among a, b"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.doc))
		if err == nil {
			t.Fatalf("%s: want error", tc.name)
		}
		if !perr.IsCode(err, perr.ErrorCodeValidation) {
			t.Fatalf("%s: code %v", tc.name, perr.CodeOf(err))
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: %q does not mention %q", tc.name, err.Error(), tc.want)
		}
	}
}

func TestParse_TransformRules(t *testing.T) {
	t.Parallel()

	tmpl := `
version: 1
stages:
  - name: obs
    kind: KIND
    VERIFY
    transform:
      entity_type: observation
      source: {table: src.o, key_column: id}
      target: cdm.o
      subject: {entity_type: person, column: pid}
      time: {column: ts}
      code: {column: c, VOCAB domain: Observation}
      fields:
        - {name: FIELD, column: v, type: numeric}
`
	build := func(kind, verify, vocab, field string) string {
		r := strings.NewReplacer("KIND", kind, "VERIFY", verify, "VOCAB", vocab, "FIELD", field)
		return r.Replace(tmpl)
	}

	if _, err := Parse([]byte(build("transform", "", "vocabulary: LOINC,", "value"))); err != nil {
		t.Fatalf("valid transform: %v", err)
	}
	bad := map[string]string{
		"vocab missing":       build("transform", "", "", "value"),
		"vocab twice":         build("transform", "", "vocabulary: LOINC, vocabulary_column: vc,", "value"),
		"reserved column":     build("transform", "", "vocabulary: LOINC,", "concept_id"),
		"verify on transform": build("transform", "verify: [value]", "vocabulary: LOINC,", "value"),
		"verify unknown":      build("relocate", "verify: [nope]", "vocabulary: LOINC,", "value"),
		"carried transform":   build("transform", "", "concept_column: cid,", "value"),
	}
	for name, doc := range bad {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
	if _, err := Parse([]byte(build("relocate", "verify: [value, subject_key]", "vocabulary: LOINC,", "value"))); err != nil {
		t.Fatalf("valid relocate: %v", err)
	}
	p, err := Parse([]byte(strings.Replace(build("relocate", "", "concept_column: cid,", "value"), "domain: Observation", "", 1)))
	if err != nil {
		t.Fatalf("carried relocate: %v", err)
	}
	if c := p.Stages[0].Transform.Code; !c.Carried() || c.ConceptColumn != "cid" {
		t.Fatalf("code %+v", c)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("want invalid argument, got %v", err)
	}
	if _, statErr := os.Stat("testdata/pipeline.yaml"); statErr != nil {
		t.Fatalf("fixture missing: %v", statErr)
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()

	if loc, err := (&Pipeline{}).Location(); err != nil || loc.String() != "UTC" {
		t.Fatalf("default %v %v", loc, err)
	}
	if _, err := (&Pipeline{Timezone: "Mars/Olympus"}).Location(); !perr.IsCode(err, perr.ErrorCodeValidation) {
		t.Fatalf("bad zone: %v", err)
	}
}
