package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clinicaletl/internal/core/window"
	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/store"
	"clinicaletl/internal/platform/testkit/fakedb"
	"clinicaletl/internal/services/checkpoint/domain"
	"clinicaletl/internal/services/checkpoint/memrepo"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSvc(t *testing.T) (*Service, *memrepo.Store, *fakedb.TxRunner, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.yaml")
	f, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	st := memrepo.New()
	db := fakedb.New()
	svc := New(db, st.Binder(), f).WithClock(func() time.Time { return t0 })
	return svc, st, db, path
}

func extentOf(e window.Extent, calls *int) func(context.Context) (window.Extent, error) {
	return func(context.Context) (window.Extent, error) {
		*calls++
		return e, nil
	}
}

func TestBegin_Transitions(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newSvc(t)
	ctx := context.Background()

	c, err := svc.Begin(ctx, "person_ids", "run-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != domain.StatusInProgress || c.Attempts != 1 || c.RunID.String != "run-1" {
		t.Fatalf("begin %+v", c)
	}
	if err := svc.Fail(ctx, "person_ids", "boom"); err != nil {
		t.Fatal(err)
	}
	if c, _ = svc.Begin(ctx, "person_ids", "run-2", false); c.Attempts != 2 || c.ErrorMessage.Valid {
		t.Fatalf("retry %+v", c)
	}
	if err := svc.Complete(ctx, "person_ids"); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Begin(ctx, "person_ids", "run-3", false)
	if !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("completed without force: %v", err)
	}
	if c, err = svc.Begin(ctx, "person_ids", "run-3", true); err != nil || c.Attempts != 3 {
		t.Fatalf("forced %+v %v", c, err)
	}
}

func TestCanStart(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from  domain.Status
		force bool
		want  bool
	}{
		{"", false, true},
		{domain.StatusPending, false, true},
		{domain.StatusFailed, false, true},
		{domain.StatusInProgress, false, true},
		{domain.StatusCompleted, false, false},
		{domain.StatusCompleted, true, true},
		{"bogus", true, false},
	}
	for _, tc := range cases {
		if got := domain.CanStart(tc.from, tc.force); got != tc.want {
			t.Errorf("CanStart(%q, %v) = %v", tc.from, tc.force, got)
		}
	}
}

func TestComplete_UnknownStageIsNotFound(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newSvc(t)
	if err := svc.Complete(context.Background(), "nope"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestPlan_SnapshotsOnceAndResumes(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newSvc(t)
	ctx := context.Background()
	if _, err := svc.Begin(ctx, "obs", "run-1", false); err != nil {
		t.Fatal(err)
	}

	calls := 0
	e := window.Extent{Min: 1, Max: 1_000_001, Total: 1_000_000}
	ws, tot, err := svc.Plan(ctx, "obs", "observation", 100_000, extentOf(e, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if len(ws) != 10 || tot.Extent != e || calls != 1 {
		t.Fatalf("windows=%d total=%+v calls=%d", len(ws), tot, calls)
	}
	if ws[0].Range != (window.Range{Min: 1, Max: 100_001}) || ws[9].Max != 1_000_001 {
		t.Fatalf("ranges %v .. %v", ws[0].Range, ws[9].Range)
	}

	// three windows commit, then the run dies
	for _, w := range ws[:3] {
		hook := svc.Processed(w)
		if err := svc.db.Tx(ctx, func(q store.RowQuerier) error {
			return hook(ctx, q, window.Counts{Read: 100_000, Inserted: 100_000})
		}); err != nil {
			t.Fatal(err)
		}
	}

	// a later snapshot sees more rows; the plan keeps the original total
	grown := window.Extent{Min: 1, Max: 1_200_001, Total: 1_200_000}
	ws, tot, err = svc.Plan(ctx, "obs", "observation", 100_000, extentOf(grown, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || tot.Total != 1_000_000 || len(ws) != 10 {
		t.Fatalf("replan calls=%d total=%d windows=%d", calls, tot.Total, len(ws))
	}
	pending := 0
	for _, w := range ws {
		if !w.Processed {
			pending++
		}
	}
	if pending != 7 || ws[3].Min != 300_001 {
		t.Fatalf("pending %d first pending %v", pending, ws[3].Range)
	}

	last, ok, err := svc.LastWindow(ctx, "obs")
	if err != nil || !ok || last.ID != ws[2].ID || last.Migrated != 100_000 {
		t.Fatalf("last window %+v %v %v", last, ok, err)
	}
	cp, _ := st.Checkpoint("obs")
	if cp.RowsProcessed != 300_000 {
		t.Fatalf("rows processed %d", cp.RowsProcessed)
	}
}

func TestPlan_EmptyExtentHasNoWindows(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newSvc(t)
	calls := 0
	ws, tot, err := svc.Plan(context.Background(), "obs", "observation", 10, extentOf(window.Extent{}, &calls))
	if err != nil || len(ws) != 0 || tot.Total != 0 {
		t.Fatalf("ws=%v tot=%+v err=%v", ws, tot, err)
	}
}

func TestPlan_ExtentErrorPlansNothing(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newSvc(t)
	boom := perr.Newf(perr.ErrorCodeTransientIO, "conn reset")
	_, _, err := svc.Plan(context.Background(), "obs", "observation", 10,
		func(context.Context) (window.Extent, error) { return window.Extent{}, boom })
	if !errors.Is(err, boom) || len(st.AllWindows()) != 0 {
		t.Fatalf("err=%v windows=%d", err, len(st.AllWindows()))
	}
}

func TestProcessedHook_RollsBackWithWindow(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newSvc(t)
	ctx := context.Background()
	_, _ = svc.Begin(ctx, "obs", "run-1", false)
	calls := 0
	ws, _, err := svc.Plan(ctx, "obs", "observation", 10, extentOf(window.Extent{Min: 1, Max: 11, Total: 10}, &calls))
	if err != nil {
		t.Fatal(err)
	}
	hook := svc.Processed(ws[0])
	boom := errors.New("insert failed")
	err = svc.db.Tx(ctx, func(q store.RowQuerier) error {
		if err := hook(ctx, q, window.Counts{Read: 10, Inserted: 10}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatal(err)
	}
	if w := st.AllWindows()[0]; w.Processed {
		t.Fatalf("window marked processed after rollback: %+v", w)
	}
	if cp, _ := st.Checkpoint("obs"); cp.LastWindowID.Valid || cp.RowsProcessed != 0 {
		t.Fatalf("checkpoint advanced after rollback: %+v", cp)
	}
}

func TestForcedBegin_ClearsWindows(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newSvc(t)
	ctx := context.Background()
	_, _ = svc.Begin(ctx, "obs", "run-1", false)
	calls := 0
	if _, _, err := svc.Plan(ctx, "obs", "observation", 5, extentOf(window.Extent{Min: 1, Max: 11, Total: 10}, &calls)); err != nil {
		t.Fatal(err)
	}
	if err := svc.Complete(ctx, "obs"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Begin(ctx, "obs", "run-2", true); err != nil {
		t.Fatal(err)
	}
	if n := len(st.AllWindows()); n != 0 {
		t.Fatalf("windows left after force: %d", n)
	}
	if _, _, err := svc.Plan(ctx, "obs", "observation", 5, extentOf(window.Extent{Min: 1, Max: 21, Total: 20}, &calls)); err != nil {
		t.Fatal(err)
	}
	if calls != 2 || len(st.AllWindows()) != 4 {
		t.Fatalf("replanned calls=%d windows=%d", calls, len(st.AllWindows()))
	}
}

func TestFile_WrittenAndSeedsDatabase(t *testing.T) {
	t.Parallel()

	svc, _, _, path := newSvc(t)
	ctx := context.Background()
	_, _ = svc.Begin(ctx, "person_ids", "run-1", false)
	if err := svc.Complete(ctx, "person_ids"); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen %s: %v\n%s", path, err, b)
	}
	if !f.Completed("person_ids") {
		t.Fatalf("file lost completion:\n%s", b)
	}
	if e := f.Entries()["person_ids"]; !e.Timestamp.Equal(t0) {
		t.Fatalf("timestamp %v", e.Timestamp)
	}

	// a fresh database learns completion from the file
	st := memrepo.New()
	fresh := New(fakedb.New(), st.Binder(), f).WithClock(func() time.Time { return t0 })
	if err := fresh.SeedFromFile(ctx); err != nil {
		t.Fatal(err)
	}
	if cp, ok := st.Checkpoint("person_ids"); !ok || cp.Status != domain.StatusCompleted {
		t.Fatalf("seeded %+v %v", cp, ok)
	}
	if done, err := fresh.IsCompleted(ctx, "person_ids"); err != nil || !done {
		t.Fatalf("IsCompleted %v %v", done, err)
	}
}

func TestIsCompleted_FileAnswersFirst(t *testing.T) {
	t.Parallel()

	svc, _, db, _ := newSvc(t)
	ctx := context.Background()
	if err := svc.File().Set("concepts", domain.FileEntry{Completed: true, Timestamp: t0}); err != nil {
		t.Fatal(err)
	}
	done, err := svc.IsCompleted(ctx, "concepts")
	if err != nil || !done {
		t.Fatalf("%v %v", done, err)
	}
	if db.ReadOnly() != 0 {
		t.Fatalf("database consulted: %d", db.ReadOnly())
	}
	if done, _ := svc.IsCompleted(ctx, "other"); done {
		t.Fatal("unknown stage completed")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	svc, st, _, path := newSvc(t)
	ctx := context.Background()
	for _, s := range []string{"a", "b"} {
		_, _ = svc.Begin(ctx, s, "run-1", false)
		_ = svc.Complete(ctx, s)
	}

	if err := svc.ResetStage(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := st.Checkpoint("a"); ok || svc.File().Completed("a") {
		t.Fatal("stage a survived reset")
	}
	if done, _ := svc.IsCompleted(ctx, "b"); !done {
		t.Fatal("stage b lost by single reset")
	}

	if err := svc.ResetAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file survived reset: %v", err)
	}
	if cps, _ := svc.List(ctx); len(cps) != 0 || st.Resets() != 1 {
		t.Fatalf("checkpoints %v resets %d", cps, st.Resets())
	}
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := OpenFile(filepath.Join(dir, "missing.yaml"))
	if err != nil || len(f.Entries()) != 0 {
		t.Fatalf("missing file: %v %v", f.Entries(), err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("a: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(bad); !perr.IsCode(err, perr.ErrorCodeValidation) {
		t.Fatalf("bad yaml: %v", err)
	}

	good := filepath.Join(dir, "good.yaml")
	body := "person_ids:\n  completed: true\n  timestamp: 2026-03-01T12:00:00Z\n"
	if err := os.WriteFile(good, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err = OpenFile(good)
	if err != nil || !f.Completed("person_ids") {
		t.Fatalf("good file: %v %v", f.Entries(), err)
	}

	// no path keeps state in memory only
	f, _ = OpenFile("")
	if err := f.Set("x", domain.FileEntry{Completed: true}); err != nil || !f.Completed("x") {
		t.Fatalf("memory only: %v", err)
	}
	if err := f.Clear(); err != nil {
		t.Fatal(err)
	}
}
