// Package domain defines source rows, derived target records, row errors and
// the ports of the batch transformer
package domain

import (
	"context"
	"strconv"
	"strings"

	"clinicaletl/internal/core/derive"
	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
	"clinicaletl/internal/platform/store"

	"gopkg.in/guregu/null.v3"
)

// Fixed target columns
const (
	ColSourceKey  = "source_key"
	ColSubjectKey = "subject_key"
	ColEventTime  = "event_time"
	ColSourceCode = "source_code"
	ColConceptID  = "concept_id"
)

// SourceRow is one raw source row: its ordering key and the text of every
// column the rules read, nil for SQL NULL
type SourceRow struct {
	Key    int64
	Values map[string]*string
}

// Text returns the trimmed text of col, "" for NULL
func (r SourceRow) Text(col string) string { return strings.TrimSpace(r.Raw(col)) }

// Raw returns the text of col as stored, "" for NULL
func (r SourceRow) Raw(col string) string {
	if v := r.Values[col]; v != nil {
		return *v
	}
	return ""
}

// Record is one derived target row
type Record struct {
	SourceKey  string
	SubjectKey int64
	EventTime  derive.Value
	SourceCode string
	ConceptID  int64
	Refs       map[string]null.Int
	Fields     map[string]derive.Value
}

// Value returns the derived value of a target column
func (r Record) Value(col string) (derive.Value, bool) {
	switch col {
	case ColSourceKey:
		return textValue(r.SourceKey), true
	case ColSubjectKey:
		return intValue(null.IntFrom(r.SubjectKey)), true
	case ColEventTime:
		return r.EventTime, true
	case ColSourceCode:
		return textValue(r.SourceCode), true
	case ColConceptID:
		return intValue(null.IntFrom(r.ConceptID)), true
	}
	if v, ok := r.Refs[col]; ok {
		return intValue(v), true
	}
	v, ok := r.Fields[col]
	return v, ok
}

// ExistenceKey identifies a target row for the insert guard
type ExistenceKey struct {
	Subject int64
	Time    string
	Code    string
}

// Key returns the existence key of r
func (r Record) Key() ExistenceKey {
	return ExistenceKey{Subject: r.SubjectKey, Time: r.EventTime.Text.String, Code: r.SourceCode}
}

func textValue(s string) derive.Value {
	return derive.Value{Kind: derive.KindText, Text: null.StringFrom(s)}
}

func intValue(n null.Int) derive.Value {
	v := derive.Value{Kind: derive.KindInteger, Int: n}
	if n.Valid {
		v.Text = null.StringFrom(strconv.FormatInt(n.Int64, 10))
	}
	return v
}

// ErrorKind classifies a row error
type ErrorKind string

// Row error kinds
const (
	ErrorDataQuality ErrorKind = "data_quality"
	ErrorIntegrity   ErrorKind = "integrity"
)

// RowError is one entry of the row error side table
type RowError struct {
	Stage      string      `json:"stage"`
	Scope      string      `json:"scope"`
	NaturalKey string      `json:"natural_key"`
	WindowID   null.Int    `json:"window_id"`
	Kind       ErrorKind   `json:"kind"`
	Column     string      `json:"column"`
	Raw        null.String `json:"raw_value"`
	Message    string      `json:"message"`
}

// Derived is the outcome of deriving one source row: a record, or the row
// errors that kept it out
type Derived struct {
	Key        int64
	NaturalKey string
	Record     *Record
	Errors     []RowError
}

// Target describes the table a transform or relocate stage writes
type Target struct {
	Spec *pipeline.TransformSpec
	// Carried is set for relocate stages: subject and reference columns hold
	// surrogates and the concept id may be read from the source
	Carried bool
}

// ColumnKinds maps every target column to its derive kind
func (t Target) ColumnKinds() map[string]derive.Kind {
	out := map[string]derive.Kind{
		ColSourceKey:  derive.KindText,
		ColSubjectKey: derive.KindInteger,
		ColEventTime:  t.Spec.TimeKind(),
		ColSourceCode: derive.KindText,
		ColConceptID:  derive.KindInteger,
	}
	for _, r := range t.Spec.References {
		out[r.ReferenceColumn()] = derive.KindInteger
	}
	for _, f := range t.Spec.Fields {
		out[f.Name] = f.Type
	}
	return out
}

// SourceColumns lists the source columns the rules read, without duplicates
func (t Target) SourceColumns() []string {
	s := t.Spec
	cols := []string{s.NaturalKeyColumn(), s.Subject.Column, s.Time.Column, s.Code.Column}
	for _, c := range []string{s.Code.VocabularyColumn, s.Code.DomainColumn, s.Code.ConceptColumn} {
		if c != "" {
			cols = append(cols, c)
		}
	}
	for _, r := range s.References {
		cols = append(cols, r.Column)
	}
	for _, f := range s.Fields {
		cols = append(cols, f.Column)
	}
	seen := make(map[string]bool, len(cols))
	out := cols[:0]
	for _, c := range cols {
		if c != "" && !seen[c] && c != s.Source.KeyColumn {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Repo is the storage contract, bound to one transaction
type Repo interface {
	// EnsureTarget creates the target table and its existence index
	EnsureTarget(ctx context.Context, t Target) error

	// Extent returns the key range and row count of the source
	Extent(ctx context.Context, src pipeline.Source) (window.Extent, error)

	// Page reads up to limit rows with key in [r.Min, r.Max) in key order
	Page(ctx context.Context, t Target, r window.Range, limit int) ([]SourceRow, error)

	// Insert adds records whose existence key is not in the target yet and
	// returns the number inserted
	Insert(ctx context.Context, t Target, recs []Record) (int64, error)

	// RecordErrors appends row errors, ignoring ones already recorded
	RecordErrors(ctx context.Context, errs []RowError) error

	// Errors lists recorded row errors of a stage
	Errors(ctx context.Context, stage string, limit int) ([]RowError, error)
}

// Ports is the public surface used by the orchestrator and verify
type Ports interface {
	EnsureTarget(ctx context.Context, st *pipeline.Stage) error
	Extent(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope) (window.Extent, error)
	Window(ctx context.Context, st *pipeline.Stage, sc pipeline.Scope, w window.Window, hooks ...window.Hook) (window.Counts, error)
	Scan(ctx context.Context, q store.RowQuerier, st *pipeline.Stage, r window.Range, fn func([]Derived) error) error
	Errors(ctx context.Context, stage string, limit int) ([]RowError, error)
}
