// Package backoff runs an operation with bounded exponential backoff and jitter
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds a retry loop
type Policy struct {
	Attempts int           // total tries; <=0 -> 1
	Base     time.Duration // first delay; <=0 -> 500ms
	Cap      time.Duration // max delay; <=0 -> 30s
}

// Delay returns the jittered sleep before retry i (0-based): base<<i capped,
// then uniformly spread over [d/2, d)
func (p Policy) Delay(i int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	ceil := p.Cap
	if ceil <= 0 {
		ceil = 30 * time.Second
	}
	d := ceil
	if i < 32 {
		d = min(base<<i, ceil)
	}
	if d < 2 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)))
}

// Retry calls fn until it succeeds, retryable(err) is false, attempts run out
// or ctx is done. onRetry, when set, is told about each failed attempt that
// will be retried
func Retry(ctx context.Context, p Policy, retryable func(error) bool, onRetry func(attempt int, err error, wait time.Duration), fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for i := range attempts {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		if retryable == nil || !retryable(err) || i == attempts-1 {
			return last
		}
		wait := p.Delay(i)
		if onRetry != nil {
			onRetry(i+1, err, wait)
		}
		if se := Sleep(ctx, wait); se != nil {
			return last
		}
	}
	return last
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
