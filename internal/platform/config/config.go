// Package config reads ETL settings from the environment. Keys are grouped by
// prefix: CORE_ETL_, CORE_IDENTITY_, SERVICE_PGSQL_ and so on
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Conf is a prefixed view over a key lookup, normally the process environment
type Conf struct {
	prefix string
	lookup func(string) (string, bool)
}

// warn reports malformed values. It cannot use the logger package, which is
// itself configured from here
var warn = zerolog.New(os.Stderr).With().Timestamp().Str("component", "config").Logger()

// New returns a root view over the process environment
func New() Conf { return Conf{lookup: os.LookupEnv} }

// FromMap returns a root view over a fixed set of values
func FromMap(m map[string]string) Conf {
	return Conf{lookup: func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}}
}

// Prefix scopes the view, e.g. root.Prefix("CORE_ETL_")
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p, lookup: c.lookup} }

// Key returns the full variable name for k
func (c Conf) Key(k string) string { return c.prefix + k }

// Lookup returns the trimmed value of k. Blank counts as unset
func (c Conf) Lookup(k string) (string, bool) {
	if c.lookup == nil {
		return "", false
	}
	v, _ := c.lookup(c.Key(k))
	v = strings.TrimSpace(v)
	return v, v != ""
}

// MayString returns the value of k or def
func (c Conf) MayString(k, def string) string {
	if v, ok := c.Lookup(k); ok {
		return v
	}
	return def
}

// MayInt returns k as an int, or def when unset or malformed
func (c Conf) MayInt(k string, def int) int { return parse(c, k, def, strconv.Atoi) }

// MayBool returns k as a bool, or def when unset or malformed
func (c Conf) MayBool(k string, def bool) bool { return parse(c, k, def, strconv.ParseBool) }

// MayDuration returns k as a duration such as 250ms or 2m, or def
func (c Conf) MayDuration(k string, def time.Duration) time.Duration {
	return parse(c, k, def, time.ParseDuration)
}

// MayCSV splits k on commas, dropping blank entries. def is returned when
// nothing remains
func (c Conf) MayCSV(k string, def []string) []string {
	v, ok := c.Lookup(k)
	if !ok {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func parse[T any](c Conf, k string, def T, fn func(string) (T, error)) T {
	v, ok := c.Lookup(k)
	if !ok {
		return def
	}
	out, err := fn(v)
	if err != nil {
		warn.Warn().Str("key", c.Key(k)).Str("value", v).Interface("default", def).Msg("config: malformed value, using default")
		return def
	}
	return out
}
