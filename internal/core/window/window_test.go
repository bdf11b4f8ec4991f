package window

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"clinicaletl/internal/platform/store"
)

func TestPartition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		e    Extent
		size int64
		want []Range
	}{
		{"empty", Extent{}, 10, nil},
		{"exact", Extent{Min: 1, Max: 21, Total: 20}, 10, []Range{{1, 11}, {11, 21}}},
		{"tail", Extent{Min: 5, Max: 13, Total: 3}, 5, []Range{{5, 10}, {10, 13}}},
		{"no size", Extent{Min: 1, Max: 4, Total: 3}, 0, []Range{{1, 4}}},
		{"one key", Extent{Min: 7, Max: 8, Total: 1}, 100, []Range{{7, 8}}},
	}
	for _, tc := range cases {
		if got := Partition(tc.e, tc.size); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestPartition_MillionKeysSingleWindow(t *testing.T) {
	t.Parallel()

	got := Partition(Extent{Min: 1, Max: 1_000_001, Total: 1_000_000}, 1_000_000)
	if len(got) != 1 || got[0] != (Range{1, 1_000_001}) {
		t.Fatalf("got %v", got)
	}
	if !got[0].Contains(1_000_000) || got[0].Contains(1_000_001) {
		t.Fatal("range must be half open")
	}
}

func TestCounts_AddAndLanded(t *testing.T) {
	t.Parallel()

	var c Counts
	c.Add(Counts{Read: 3, Inserted: 1, Existing: 1, Errors: 1, Gaps: 2})
	c.Add(Counts{Read: 2, Inserted: 2})
	if c != (Counts{Read: 5, Inserted: 3, Existing: 1, Errors: 1, Gaps: 2}) {
		t.Fatalf("counts %+v", c)
	}
	if c.Landed() != 4 {
		t.Fatalf("landed %d", c.Landed())
	}
}

func TestRunHooks_StopsOnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var seen []int64
	h := func(ctx context.Context, q store.RowQuerier, c Counts) error {
		seen = append(seen, c.Read)
		return nil
	}
	fail := func(context.Context, store.RowQuerier, Counts) error { return boom }

	err := RunHooks(context.Background(), nil, Counts{Read: 9}, h, nil, fail, h)
	if !errors.Is(err, boom) {
		t.Fatalf("err %v", err)
	}
	if len(seen) != 1 || seen[0] != 9 {
		t.Fatalf("seen %v", seen)
	}
}

func TestWindow_Label(t *testing.T) {
	t.Parallel()

	w := Window{ID: 4, Stage: "obs", Scope: "observation", Range: Range{10, 20}}
	if got := w.Label(); got != "obs/observation#4[10,20)" {
		t.Fatalf("label %q", got)
	}
}
