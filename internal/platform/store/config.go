package store

import (
	"time"

	"clinicaletl/internal/platform/config"
	perr "clinicaletl/internal/platform/errors"
)

// Config describes the seams Open connects
type Config struct {
	AppName string
	PG      PGConfig
	Events  EventsConfig
}

// PGConfig configures the Postgres pool
type PGConfig struct {
	URL              string
	MaxConns         int32
	LogSQL           bool
	SlowQuery        time.Duration
	StatementTimeout time.Duration
	ConnectRetries   int           // default 20
	PingTimeout      time.Duration // default 3s
}

// EventsConfig configures the ClickHouse run event sink; an empty URL disables it
type EventsConfig struct {
	URL  string
	Role string
}

// FromConfig reads SERVICE_PGSQL_* and SERVICE_CLICKHOUSE_* for a process
// running as role ("cli" or "api")
func FromConfig(root config.Conf, role string) (Config, error) {
	pg := root.Prefix("SERVICE_PGSQL_")
	url := pg.MayString("DBURL", "")
	if url == "" {
		return Config{}, perr.WithField(perr.InvalidArgf("SERVICE_PGSQL_DBURL is not set"), "SERVICE_PGSQL_DBURL")
	}
	return Config{
		AppName: "clinetl-" + role,
		PG: PGConfig{
			URL:              url,
			MaxConns:         int32(pg.MayInt("MAX_CONNS", 8)),
			LogSQL:           pg.MayBool("LOG_SQL", false),
			SlowQuery:        time.Duration(pg.MayInt("SLOW_MS", 500)) * time.Millisecond,
			StatementTimeout: pg.MayDuration("STATEMENT_TIMEOUT", 0),
			ConnectRetries:   pg.MayInt("CONNECT_RETRIES", 20),
		},
		Events: EventsConfig{
			URL:  root.Prefix("SERVICE_CLICKHOUSE_").MayString("DBURL", ""),
			Role: role,
		},
	}, nil
}
