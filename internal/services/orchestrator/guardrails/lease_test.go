package guardrails

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"clinicaletl/internal/platform/testkit"
	"clinicaletl/internal/platform/testkit/fakedb"
	"clinicaletl/internal/services/orchestrator/domain"
)

func TestLocal_SingleHolder(t *testing.T) {
	t.Parallel()

	var l Local
	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(context.Background()); !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("second acquire: %v", err)
	}
	release()
	release()
	again, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("after release: %v", err)
	}
	again()
}

func TestLease_ClaimErrorIsReturned(t *testing.T) {
	t.Parallel()

	db := fakedb.New()
	l := NewLease(db, "etl", time.Minute)
	release, err := l.Acquire(context.Background())
	if err == nil || release != nil {
		t.Fatal("raw sql against the fake must fail the claim")
	}
	if db.Rollbacks() != 1 {
		t.Fatalf("rollbacks %d", db.Rollbacks())
	}
}

func TestNewLease(t *testing.T) {
	t.Parallel()

	l := NewLease(fakedb.New(), "etl", 0)
	if l.ttl != 2*time.Minute {
		t.Fatalf("default ttl %v", l.ttl)
	}
	if parts := strings.Split(l.Owner(), ":"); len(parts) < 3 {
		t.Fatalf("owner %q", l.Owner())
	}
	if NewLease(fakedb.New(), "etl", 0).Owner() == l.Owner() {
		t.Fatal("owners must be unique per lease")
	}
	testkit.MustPanic(t, func() { NewLease(nil, "etl", time.Minute) })
}
