// Package testkit holds assertions and seam helpers shared by package tests
package testkit

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

var serial sync.Mutex

// Swap replaces *target for the rest of the test
func Swap[T any](t testing.TB, target *T, v T) {
	t.Helper()
	prev := *target
	*target = v
	t.Cleanup(func() { *target = prev })
}

// Serial holds a process-wide lock until the test ends. Tests that swap
// package-level seams take it so they never observe each other's fakes
func Serial(t testing.TB) {
	t.Helper()
	serial.Lock()
	t.Cleanup(serial.Unlock)
}

// MustPanic fails unless fn panics
func MustPanic(t testing.TB, fn func()) {
	t.Helper()
	if recovered(fn) == nil {
		t.Fatalf("expected a panic")
	}
}

// MustNotPanic fails if fn panics
func MustNotPanic(t testing.TB, fn func()) {
	t.Helper()
	if v := recovered(fn); v != nil {
		t.Fatalf("unexpected panic: %v", v)
	}
}

// MustContain fails unless out contains want. Long output is trimmed in the
// failure message
func MustContain(t testing.TB, out, want string) {
	t.Helper()
	if strings.Contains(out, want) {
		return
	}
	shown := out
	if len(shown) > 2048 {
		shown = shown[:2048] + fmt.Sprintf("... (%d bytes)", len(out))
	}
	t.Fatalf("output missing %q:\n%s", want, shown)
}

func recovered(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}
