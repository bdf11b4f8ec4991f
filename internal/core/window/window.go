// Package window partitions an integer key space into half-open ranges and
// carries the per-window counters every stage kind reports
package window

import (
	"context"
	"fmt"

	"clinicaletl/internal/platform/store"
)

// Range is the half-open key interval [Min, Max)
type Range struct {
	Min int64 `json:"min_key"`
	Max int64 `json:"max_key"`
}

// Contains reports whether k lies in the range
func (r Range) Contains(k int64) bool { return k >= r.Min && k < r.Max }

// Empty reports whether the range holds no keys
func (r Range) Empty() bool { return r.Max <= r.Min }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Min, r.Max) }

// Extent is the key range and row count of a source, snapshotted when a
// stage first starts
type Extent struct {
	Min   int64 `json:"min_key"`
	Max   int64 `json:"max_key"`
	Total int64 `json:"expected_total"`
}

// Range returns the extent as a half-open range
func (e Extent) Range() Range { return Range{Min: e.Min, Max: e.Max} }

// Partition splits e into consecutive ranges of at most size keys in
// ascending order. An empty extent yields no ranges
func Partition(e Extent, size int64) []Range {
	if e.Total <= 0 || e.Max <= e.Min {
		return nil
	}
	if size <= 0 {
		return []Range{e.Range()}
	}
	n := (e.Max - e.Min + size - 1) / size
	out := make([]Range, 0, n)
	for lo := e.Min; lo < e.Max; {
		hi := lo + size
		if hi > e.Max || hi < lo {
			hi = e.Max
		}
		out = append(out, Range{Min: lo, Max: hi})
		lo = hi
	}
	return out
}

// Counts are the outcome counters of one window
type Counts struct {
	Read     int64 `json:"read"`
	Inserted int64 `json:"inserted"`
	Existing int64 `json:"existing"`
	Errors   int64 `json:"errors"`
	Gaps     int64 `json:"mapping_gaps"`
}

// Add accumulates o into c
func (c *Counts) Add(o Counts) {
	c.Read += o.Read
	c.Inserted += o.Inserted
	c.Existing += o.Existing
	c.Errors += o.Errors
	c.Gaps += o.Gaps
}

// Landed is the number of rows present in the target after the window:
// inserted now or already there
func (c Counts) Landed() int64 { return c.Inserted + c.Existing }

// Hook runs inside the window transaction after the work and before commit
type Hook func(ctx context.Context, q store.RowQuerier, c Counts) error

// RunHooks runs hooks in order, stopping at the first error
func RunHooks(ctx context.Context, q store.RowQuerier, c Counts, hooks ...Hook) error {
	for _, h := range hooks {
		if h == nil {
			continue
		}
		if err := h(ctx, q, c); err != nil {
			return err
		}
	}
	return nil
}

// Window is one persisted range of a stage scope with its progress flags
type Window struct {
	ID    int64  `json:"id"`
	Stage string `json:"stage"`
	Scope string `json:"scope"`
	Range

	Processed  bool `json:"processed"`
	Verified   bool `json:"verified"`
	Deleted    bool `json:"deleted"`
	Unverified bool `json:"unverified"`

	Counts
	Migrated      int64  `json:"migrated_count"`
	VerifiedCount int64  `json:"verified_count"`
	DeletedCount  *int64 `json:"deleted_count,omitempty"`
}

// Label is the short form used in logs and failure reports
func (w Window) Label() string {
	return fmt.Sprintf("%s/%s#%d%s", w.Stage, w.Scope, w.ID, w.Range)
}
