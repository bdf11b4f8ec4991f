// Package domain defines the types and interfaces of the concept mapper
package domain

import (
	"context"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"

	"gopkg.in/guregu/null.v3"
)

// Unmapped is the concept id every code without a reference match resolves to
const Unmapped int64 = 0

// Key identifies one observed code. Domain is part of the key because the
// same code may be observed in several domains with different targets
type Key struct {
	Code       string `json:"code"`
	Vocabulary string `json:"vocabulary"`
	Domain     string `json:"domain"`
}

// Candidate is one reference vocabulary row matching a code
type Candidate struct {
	ConceptID     int64
	Code          string
	Vocabulary    string
	Domain        string
	Standard      string
	InvalidReason string
	ValidStart    null.Time
	ValidEnd      null.Time
}

// Mapping is one concept_map row
type Mapping struct {
	Key
	ConceptID        int64
	TargetVocabulary null.String
	ValidStart       null.Time
	ValidEnd         null.Time
}

// UnmappedCount is the number of sentinel mappings for a vocabulary and domain
type UnmappedCount struct {
	Vocabulary string `json:"vocabulary"`
	Domain     string `json:"domain"`
	Codes      int64  `json:"codes"`
}

// ReadPort resolves codes to concepts. Resolution is total: a code with no
// mapping yields Unmapped, never an error
type ReadPort interface {
	Resolve(ctx context.Context, code, vocabulary, domain string) (int64, error)
	ResolveMany(ctx context.Context, keys []Key) (map[Key]int64, error)
}

// Ports is the public surface of the concept module
type Ports interface {
	ReadPort
	Unmapped(ctx context.Context) ([]UnmappedCount, error)
}

// Repo is the storage contract, bound to one transaction
type Repo interface {
	// Mapped returns stored targets for keys; absent keys are omitted
	Mapped(ctx context.Context, keys []Key) (map[Key]int64, error)

	// WindowCodes returns the distinct raw (code, vocabulary, domain) triples
	// of src within r. Values are not normalized
	WindowCodes(ctx context.Context, src pipeline.CodeSource, r window.Range) ([]Key, error)

	// Candidates returns reference rows of vocabulary whose code is in codes.
	// Vocabulary ids match regardless of case: the canonical id is upper
	// cased while reference tables store e.g. "RxNorm"
	Candidates(ctx context.Context, vocabulary string, codes []string) ([]Candidate, error)

	// Insert writes mappings, skipping keys that already exist
	Insert(ctx context.Context, ms []Mapping) (int64, error)

	// Unmapped counts sentinel mappings per vocabulary and domain
	Unmapped(ctx context.Context) ([]UnmappedCount, error)

	// Extent returns the key extent of a source table
	Extent(ctx context.Context, src pipeline.Source) (window.Extent, error)
}
