// Package domain defines the core types and interfaces for the identity mapper
package domain

import (
	"context"

	"clinicaletl/internal/core/pipeline"
	"clinicaletl/internal/core/window"
)

// ReadPort resolves natural keys without creating mappings
type ReadPort interface {
	Lookup(ctx context.Context, entityType, naturalKey string) (int64, bool, error)
	LookupMany(ctx context.Context, entityType string, keys []string) (map[string]int64, error)
}

// WritePort assigns surrogates, creating them on first sight
type WritePort interface {
	GetOrCreate(ctx context.Context, entityType, naturalKey string) (int64, error)
	GetOrCreateMany(ctx context.Context, entityType string, keys []string) (map[string]int64, error)
}

// Ports is the public surface of the identity module
type Ports interface {
	ReadPort
	WritePort
	Audit(ctx context.Context, entityType string, sources []pipeline.IdentitySource) (Audit, error)
}

// Repo is the storage contract, bound to one transaction
type Repo interface {
	// Lookup returns the existing surrogates for keys; absent keys are omitted
	Lookup(ctx context.Context, entityType string, keys []string) (map[string]int64, error)

	// LockCounter creates the counter row if needed and locks it for the rest
	// of the transaction, returning the last issued value
	LockCounter(ctx context.Context, entityType string) (int64, error)

	// Insert maps keys[i] to first+i, skipping keys that already exist.
	// Returns the number of rows written
	Insert(ctx context.Context, entityType string, keys []string, first int64) (int64, error)

	// AdvanceCounter moves the counter forward to last
	AdvanceCounter(ctx context.Context, entityType string, last int64) error

	// WindowKeys returns the distinct non-empty natural keys of src within r,
	// ordered by the first source key they appear at
	WindowKeys(ctx context.Context, src pipeline.IdentitySource, r window.Range) ([]string, error)

	// Extent returns the key extent of a source table
	Extent(ctx context.Context, src pipeline.Source) (window.Extent, error)

	// Audit counts observed keys, mappings and the counter for entityType
	Audit(ctx context.Context, entityType string, sources []pipeline.IdentitySource) (Audit, error)
}

// Audit compares what the sources hold with what the mapper issued
type Audit struct {
	EntityType   string `json:"entity_type"`
	ObservedKeys int64  `json:"observed_keys"`
	MissingKeys  int64  `json:"missing_keys"`
	MappedKeys   int64  `json:"mapped_keys"`
	MaxSurrogate int64  `json:"max_surrogate"`
	Counter      int64  `json:"counter"`
}

// Consistent reports whether every observed key is mapped and the issued
// surrogates are exactly 1..Counter
func (a Audit) Consistent() bool {
	return a.MissingKeys == 0 && a.MappedKeys == a.Counter && a.MaxSurrogate == a.Counter
}
