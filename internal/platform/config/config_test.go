package config

import (
	"bytes"
	"slices"
	"testing"
	"time"

	kit "clinicaletl/internal/platform/testkit"

	"github.com/rs/zerolog"
)

func TestPrefixComposesKeys(t *testing.T) {
	c := New().Prefix("CORE_").Prefix("ETL_")
	if got := c.Key("PIPELINE"); got != "CORE_ETL_PIPELINE" {
		t.Fatalf("Key = %q", got)
	}
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("CORE_ETL_PIPELINE", "  /etc/etl/pipeline.yaml ")
	if got := New().Prefix("CORE_ETL_").MayString("PIPELINE", "pipeline.yaml"); got != "/etc/etl/pipeline.yaml" {
		t.Fatalf("MayString = %q", got)
	}
	t.Setenv("CORE_ETL_PIPELINE", "   ")
	if got := New().Prefix("CORE_ETL_").MayString("PIPELINE", "pipeline.yaml"); got != "pipeline.yaml" {
		t.Fatalf("blank should fall back, got %q", got)
	}
}

func TestTypedValues(t *testing.T) {
	c := FromMap(map[string]string{
		"CORE_IDENTITY_RETRIES":    "7",
		"CORE_IDENTITY_RETRY_BASE": "75ms",
		"CORE_EVENTS_ENABLED":      "false",
		"CORE_API_OPERATOR_TOKENS": " alice=t1, ,bob=t2 ",
		"CORE_API_EMPTY_LIST":      " , ",
	})
	id := c.Prefix("CORE_IDENTITY_")
	if got := id.MayInt("RETRIES", 5); got != 7 {
		t.Fatalf("MayInt = %d", got)
	}
	if got := id.MayInt("MISSING", 5); got != 5 {
		t.Fatalf("MayInt default = %d", got)
	}
	if got := id.MayDuration("RETRY_BASE", time.Second); got != 75*time.Millisecond {
		t.Fatalf("MayDuration = %v", got)
	}
	if c.Prefix("CORE_EVENTS_").MayBool("ENABLED", true) {
		t.Fatalf("MayBool should read false")
	}
	api := c.Prefix("CORE_API_")
	if got := api.MayCSV("OPERATOR_TOKENS", nil); !slices.Equal(got, []string{"alice=t1", "bob=t2"}) {
		t.Fatalf("MayCSV = %v", got)
	}
	if got := api.MayCSV("EMPTY_LIST", []string{"x"}); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("MayCSV all-blank = %v", got)
	}
}

func TestMalformedValueWarnsAndFallsBack(t *testing.T) {
	var buf bytes.Buffer
	kit.Swap(t, &warn, zerolog.New(&buf))

	c := FromMap(map[string]string{"CORE_ETL_PARALLELISM": "four", "CORE_ETL_LEASE_TTL": "2"})
	etl := c.Prefix("CORE_ETL_")
	if got := etl.MayInt("PARALLELISM", 4); got != 4 {
		t.Fatalf("MayInt = %d", got)
	}
	if got := etl.MayDuration("LEASE_TTL", time.Minute); got != time.Minute {
		t.Fatalf("MayDuration = %v", got)
	}
	kit.MustContain(t, buf.String(), `"key":"CORE_ETL_PARALLELISM"`)
	kit.MustContain(t, buf.String(), `"key":"CORE_ETL_LEASE_TTL"`)
}

func TestZeroConfIsEmpty(t *testing.T) {
	var c Conf
	if _, ok := c.Lookup("ANY"); ok {
		t.Fatalf("zero Conf should have no values")
	}
}
