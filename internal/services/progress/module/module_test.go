package module

import (
	"testing"

	"clinicaletl/internal/platform/config"
)

func TestFromConfig_OperatorTokens(t *testing.T) {
	c := config.FromMap(map[string]string{"CORE_API_OPERATOR_TOKENS": "alice=t1, bob = t2 ,broken,=t3"})
	o := FromConfig(c)
	if len(o.Operators) != 2 || o.Operators["t1"] != "alice" || o.Operators["t2"] != "bob" {
		t.Fatalf("operators %+v", o.Operators)
	}
}

func TestFromConfig_NoTokens(t *testing.T) {
	if o := FromConfig(config.FromMap(nil)); len(o.Operators) != 0 {
		t.Fatalf("operators %+v", o.Operators)
	}
}
