// Package service buffers run events and ships them to a repo in batches
package service

import (
	"context"
	"sync"
	"time"

	"clinicaletl/internal/platform/logger"
	ptime "clinicaletl/internal/platform/time"
	"clinicaletl/internal/services/events/domain"
)

// Config holds buffering options
type Config struct {
	Batch int // events held before an automatic flush; <=0 -> 256
}

// Sink implements domain.Sink over a repo
type Sink struct {
	repo  domain.Repo
	batch int
	now   func() time.Time

	mu      sync.Mutex
	buf     []domain.Event
	dropped int
}

var _ domain.Sink = (*Sink)(nil)

// New constructs the sink
func New(repo domain.Repo, cfg Config) *Sink {
	if repo == nil {
		panic("events.Sink requires a non-nil Repo")
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 256
	}
	return &Sink{repo: repo, batch: cfg.Batch, now: ptime.Now}
}

// Emit buffers e, flushing when the batch is full. Delivery failures are
// logged and the batch dropped
func (s *Sink) Emit(ctx context.Context, e domain.Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	if e.RunID == "" {
		e.RunID = logger.RunID(ctx)
	}
	s.mu.Lock()
	s.buf = append(s.buf, e)
	full := len(s.buf) >= s.batch
	s.mu.Unlock()
	if full {
		if err := s.Flush(ctx); err != nil {
			logger.C(ctx).Warn().Err(err).Msg("events: flush failed")
		}
	}
}

// Flush writes buffered events
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	es := s.buf
	s.buf = nil
	s.mu.Unlock()
	if len(es) == 0 {
		return nil
	}
	if err := s.repo.Insert(context.WithoutCancel(ctx), es); err != nil {
		s.mu.Lock()
		s.dropped += len(es)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Dropped returns the number of events lost to failed flushes
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
