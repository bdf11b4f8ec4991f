package pg

import (
	"context"
	"strings"
	"time"

	"clinicaletl/internal/platform/logger"
)

// QueryEvent describes one finished statement
type QueryEvent struct {
	SQL     string
	Args    []any
	Elapsed time.Duration
	Err     error
}

// QueryTracer receives every statement run through the store adapter
type QueryTracer interface {
	OnQuery(ctx context.Context, ev QueryEvent)
}

// Tracer logs statements through log. Statements slower than slow, and
// failed ones, are logged at warn; the rest at debug. The run id on ctx is
// attached. Argument values are never logged, they carry patient data
func Tracer(log logger.Logger, slow time.Duration) QueryTracer {
	return &logTracer{log: log.With().Str("component", "pg").Logger(), slow: slow}
}

type logTracer struct {
	log  logger.Logger
	slow time.Duration
}

func (t *logTracer) OnQuery(ctx context.Context, ev QueryEvent) {
	isSlow := t.slow > 0 && ev.Elapsed >= t.slow
	e := t.log.Debug()
	if isSlow || ev.Err != nil {
		e = t.log.Warn()
	}
	if !e.Enabled() {
		return
	}
	if id := logger.RunID(ctx); id != "" {
		e = e.Str("run_id", id)
	}
	e.Dur("elapsed", ev.Elapsed).
		Bool("slow", isSlow).
		Str("sql", strings.Join(strings.Fields(ev.SQL), " ")).
		Int("args", len(ev.Args)).
		Err(ev.Err).
		Msg("pg query")
}
