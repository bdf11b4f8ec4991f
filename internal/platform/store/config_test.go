package store

import (
	"testing"
	"time"

	"clinicaletl/internal/platform/config"
	perr "clinicaletl/internal/platform/errors"
)

func TestFromConfig(t *testing.T) {
	t.Setenv("SERVICE_PGSQL_DBURL", "postgres://etl@db/clinical")
	t.Setenv("SERVICE_PGSQL_MAX_CONNS", "12")
	t.Setenv("SERVICE_PGSQL_SLOW_MS", "250")
	t.Setenv("SERVICE_PGSQL_STATEMENT_TIMEOUT", "45s")
	t.Setenv("SERVICE_CLICKHOUSE_DBURL", "clickhouse://events:9000/etl")

	c, err := FromConfig(config.New(), "api")
	if err != nil {
		t.Fatal(err)
	}
	if c.AppName != "clinetl-api" || c.PG.MaxConns != 12 || c.PG.SlowQuery != 250*time.Millisecond || c.PG.StatementTimeout != 45*time.Second {
		t.Fatalf("pg config %+v", c)
	}
	if c.Events.URL != "clickhouse://events:9000/etl" || c.Events.Role != "api" {
		t.Fatalf("events config %+v", c.Events)
	}
}

func TestFromConfig_RequiresDBURL(t *testing.T) {
	t.Setenv("SERVICE_PGSQL_DBURL", "")

	_, err := FromConfig(config.New(), "cli")
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("want invalid argument, got %v", err)
	}
	if fe, ok := perr.As(err); !ok || fe.Field() != "SERVICE_PGSQL_DBURL" {
		t.Fatalf("field %v", err)
	}
}
