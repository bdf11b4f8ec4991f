// Package pipeline declares the stage graph and the per-entity derivation
// rules. Rules are data: a pipeline file lists source tables, target tables
// and typed field mappings; no clinical domain is coded here
package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"clinicaletl/internal/core/derive"
	perr "clinicaletl/internal/platform/errors"

	"gopkg.in/yaml.v3"
)

// Kind is the kind of work a stage performs
type Kind string

// Stage kinds
const (
	KindIdentity  Kind = "identity"
	KindConcept   Kind = "concept"
	KindTransform Kind = "transform"
	KindRelocate  Kind = "relocate"
)

// IsMapping reports whether the stage builds a mapping table
func (k Kind) IsMapping() bool { return k == KindIdentity || k == KindConcept }

// Pipeline is the parsed pipeline file
type Pipeline struct {
	Version   int     `yaml:"version" validate:"eq=1"`
	BatchSize int64   `yaml:"batch_size" validate:"gte=0"`
	Timezone  string  `yaml:"timezone" validate:"omitempty,timezone"`
	Stages    []Stage `yaml:"stages" validate:"required,min=1,unique=Name,dive"`
}

// Stage is one node of the dependency graph
type Stage struct {
	Name      string   `yaml:"name" validate:"required,stagename"`
	Kind      Kind     `yaml:"kind" validate:"required,oneof=identity concept transform relocate"`
	DependsOn []string `yaml:"depends_on" validate:"unique,dive,stagename"`
	BatchSize int64    `yaml:"batch_size" validate:"gte=0"`

	Identity  *IdentitySpec  `yaml:"identity"`
	Concept   *ConceptSpec   `yaml:"concept"`
	Transform *TransformSpec `yaml:"transform"`

	// Verify lists the target columns compared by a relocate stage; empty means all fields
	Verify []string `yaml:"verify" validate:"dive,sqlident"`
}

// Source is a table read in ascending integer key order. The key column
// must be unique, typically the primary key
type Source struct {
	Table     string `yaml:"table" validate:"required,sqlident"`
	KeyColumn string `yaml:"key_column" validate:"required,sqlident"`
}

// IdentitySpec lists the tables whose natural keys get surrogates
type IdentitySpec struct {
	EntityType string           `yaml:"entity_type" validate:"required,stagename"`
	Sources    []IdentitySource `yaml:"sources" validate:"required,min=1,dive"`
}

// IdentitySource is one table contributing natural keys
type IdentitySource struct {
	Source     `yaml:",inline"`
	NaturalKey string `yaml:"natural_key" validate:"required,sqlident"`
}

// CodeSpec locates a code and its vocabulary and domain, either as a column
// or as a constant. A relocate stage may instead carry an already resolved
// concept id from ConceptColumn
type CodeSpec struct {
	Column           string `yaml:"column" validate:"required,sqlident"`
	Vocabulary       string `yaml:"vocabulary" validate:"required_without_all=VocabularyColumn ConceptColumn,excluded_with=VocabularyColumn"`
	VocabularyColumn string `yaml:"vocabulary_column" validate:"omitempty,sqlident"`
	Domain           string `yaml:"domain" validate:"required_without_all=DomainColumn ConceptColumn,excluded_with=DomainColumn"`
	DomainColumn     string `yaml:"domain_column" validate:"omitempty,sqlident"`
	ConceptColumn    string `yaml:"concept_column" validate:"omitempty,sqlident"`
}

// Carried reports whether the concept id is read from the source rather
// than resolved
func (c CodeSpec) Carried() bool { return c.ConceptColumn != "" }

// ConceptSpec lists the tables whose codes are mapped to concepts
type ConceptSpec struct {
	Sources []CodeSource `yaml:"sources" validate:"required,min=1,dive"`
}

// CodeSource is one table contributing codes
type CodeSource struct {
	Source `yaml:",inline"`
	Code   CodeSpec `yaml:"code"`
}

// Reference resolves a natural key column to a surrogate of EntityType
type Reference struct {
	EntityType   string `yaml:"entity_type" validate:"required,stagename"`
	Column       string `yaml:"column" validate:"required,sqlident"`
	TargetColumn string `yaml:"target_column" validate:"omitempty,sqlident"`
	Required     bool   `yaml:"required"`
}

// TimeSpec locates the event timestamp
type TimeSpec struct {
	Column string      `yaml:"column" validate:"required,sqlident"`
	Type   derive.Kind `yaml:"type" validate:"omitempty,oneof=date datetime"`
}

// FieldSpec declares one derived target column
type FieldSpec struct {
	Name     string      `yaml:"name" validate:"required,sqlident"`
	Column   string      `yaml:"column" validate:"required,sqlident"`
	Type     derive.Kind `yaml:"type" validate:"required,oneof=text numeric integer boolean date datetime"`
	Required bool        `yaml:"required"`
	Default  string      `yaml:"default"`
	MaxLen   int         `yaml:"max_len" validate:"gte=0"`
}

// TransformSpec maps one source table onto one target table
type TransformSpec struct {
	EntityType string      `yaml:"entity_type" validate:"required,stagename"`
	Source     Source      `yaml:"source"`
	NaturalKey string      `yaml:"natural_key" validate:"omitempty,sqlident"`
	Target     string      `yaml:"target" validate:"required,sqlident"`
	Subject    Reference   `yaml:"subject"`
	References []Reference `yaml:"references" validate:"dive"`
	Time       TimeSpec    `yaml:"time"`
	Code       CodeSpec    `yaml:"code"`
	Fields     []FieldSpec `yaml:"fields" validate:"unique=Name,dive"`
}

// NaturalKeyColumn returns the column whose value identifies a source row
// in the target (source_key) and in the row error table
func (t *TransformSpec) NaturalKeyColumn() string {
	if t.NaturalKey != "" {
		return t.NaturalKey
	}
	return t.Source.KeyColumn
}

// TimeKind returns the declared kind of the event time, datetime by default
func (t *TransformSpec) TimeKind() derive.Kind {
	if t.Time.Type == "" {
		return derive.KindDateTime
	}
	return t.Time.Type
}

// DeriveFields converts the declared fields for core/derive
func (t *TransformSpec) DeriveFields() []derive.Field {
	out := make([]derive.Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		out = append(out, derive.Field{
			Name:     f.Name,
			Column:   f.Column,
			Kind:     f.Type,
			Required: f.Required,
			Default:  f.Default,
			MaxLen:   f.MaxLen,
		})
	}
	return out
}

// ReferenceColumn returns the target column for a reference
func (r Reference) ReferenceColumn() string {
	if r.TargetColumn != "" {
		return r.TargetColumn
	}
	return r.EntityType + "_key"
}

// Load reads and validates a pipeline file
func Load(path string) (*Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "read pipeline %s", path)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, perr.WithOp(err, path)
	}
	return p, nil
}

// Parse decodes and validates a pipeline document. Unknown keys are rejected
func Parse(b []byte) (*Pipeline, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeValidation, "invalid pipeline yaml")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Location returns the zone used for source timestamps without one
func (p *Pipeline) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "pipeline timezone %q", p.Timezone)
	}
	return loc, nil
}

// Stage returns the stage with the given name
func (p *Pipeline) Stage(name string) (*Stage, bool) {
	i := p.Index(name)
	if i < 0 {
		return nil, false
	}
	return &p.Stages[i], true
}

// Index returns the declaration index of a stage or -1
func (p *Pipeline) Index(name string) int {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return i
		}
	}
	return -1
}

// Names returns stage names in declaration order
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.Stages))
	for i := range p.Stages {
		out[i] = p.Stages[i].Name
	}
	return out
}

// WindowSize returns the batch size for a stage: stage override, then the
// pipeline default, then fallback
func (p *Pipeline) WindowSize(s *Stage, fallback int64) int64 {
	switch {
	case s != nil && s.BatchSize > 0:
		return s.BatchSize
	case p.BatchSize > 0:
		return p.BatchSize
	default:
		return fallback
	}
}

// Scopes lists the window scopes of a stage: one per identity or code
// source table, or the entity type for transform and relocate stages
func (s *Stage) Scopes() []Scope {
	switch s.Kind {
	case KindIdentity:
		out := make([]Scope, 0, len(s.Identity.Sources))
		for _, src := range s.Identity.Sources {
			out = append(out, Scope{Name: src.Table, Source: src.Source})
		}
		return out
	case KindConcept:
		out := make([]Scope, 0, len(s.Concept.Sources))
		for _, src := range s.Concept.Sources {
			out = append(out, Scope{Name: src.Table, Source: src.Source})
		}
		return out
	default:
		return []Scope{{Name: s.Transform.EntityType, Source: s.Transform.Source}}
	}
}

// Scope is one independently windowed unit of a stage
type Scope struct {
	Name   string
	Source Source
}

func (s Scope) String() string {
	return fmt.Sprintf("%s(%s.%s)", s.Name, s.Source.Table, s.Source.KeyColumn)
}
