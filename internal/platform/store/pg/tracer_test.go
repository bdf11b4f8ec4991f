package pg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"clinicaletl/internal/platform/logger"

	"github.com/rs/zerolog"
)

type traced struct {
	Level   string `json:"level"`
	Slow    bool   `json:"slow"`
	SQL     string `json:"sql"`
	Args    int    `json:"args"`
	RunID   string `json:"run_id"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func lastLine(t *testing.T, buf *bytes.Buffer) traced {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var l traced
	if err := json.Unmarshal(lines[len(lines)-1], &l); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	return l
}

func TestTracer_LevelsBySlownessAndError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := Tracer(zerolog.New(&buf).Level(zerolog.DebugLevel), 200*time.Millisecond)
	ctx := logger.WithRun(context.Background(), "run-7")

	tr.OnQuery(ctx, QueryEvent{SQL: "SELECT row_id\n\tFROM  src.obs", Args: []any{1, 2}, Elapsed: time.Millisecond})
	l := lastLine(t, &buf)
	if l.Level != "debug" || l.Slow || l.SQL != "SELECT row_id FROM src.obs" || l.Args != 2 || l.RunID != "run-7" {
		t.Fatalf("fast query %+v", l)
	}

	tr.OnQuery(ctx, QueryEvent{SQL: "SELECT 1", Elapsed: time.Second})
	if l := lastLine(t, &buf); l.Level != "warn" || !l.Slow {
		t.Fatalf("slow query %+v", l)
	}

	tr.OnQuery(ctx, QueryEvent{SQL: "SELECT 1", Err: errors.New("deadlock detected")})
	if l := lastLine(t, &buf); l.Level != "warn" || l.Error != "deadlock detected" {
		t.Fatalf("failed query %+v", l)
	}
}

func TestTracer_NeverLogsArgumentValues(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := Tracer(zerolog.New(&buf), 0)
	tr.OnQuery(context.Background(), QueryEvent{SQL: "INSERT INTO stage.person VALUES ($1)", Args: []any{"MRN-0042"}})
	if bytes.Contains(buf.Bytes(), []byte("MRN-0042")) {
		t.Fatalf("argument value leaked: %s", buf.String())
	}
}

func TestTracer_DisabledLevelWritesNothing(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tr := Tracer(zerolog.New(&buf).Level(zerolog.InfoLevel), time.Second)
	tr.OnQuery(context.Background(), QueryEvent{SQL: "SELECT 1"})
	if buf.Len() != 0 {
		t.Fatalf("debug query written at info level: %s", buf.String())
	}
}
