package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeStatusAndName(t *testing.T) {
	cases := []struct {
		code   ErrorCode
		name   string
		status int
	}{
		{ErrorCodeTransientIO, "transient_io", http.StatusServiceUnavailable},
		{ErrorCodeIntegrity, "integrity_violation", http.StatusInternalServerError},
		{ErrorCodeConflict, "conflict", http.StatusConflict},
		{ErrorCodeJSON, "json", http.StatusBadRequest},
		{ErrorCodeUnauthorized, "unauthorized", http.StatusUnauthorized},
		{ErrorCodeInvalidArgument, "invalid_argument", http.StatusUnprocessableEntity},
		{ErrorCode(999), "code(999)", http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.code.String(); got != c.name {
			t.Fatalf("String(%d) = %q, want %q", c.code, got, c.name)
		}
		if got := c.code.Status(); got != c.status {
			t.Fatalf("Status(%s) = %d, want %d", c.code, got, c.status)
		}
	}
	if HTTPStatus(nil) != http.StatusOK || HTTPStatus(stderrs.New("x")) != http.StatusInternalServerError {
		t.Fatalf("HTTPStatus defaults wrong")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	reset := stderrs.New("connection reset by peer")
	err := Wrapf(reset, ErrorCodeTransientIO, "window %d", 3)
	if err.Error() != "window 3: connection reset by peer" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !stderrs.Is(err, reset) || Root(fmt.Errorf("stage: %w", err)) != reset {
		t.Fatalf("cause lost")
	}
	if Root(nil) != nil {
		t.Fatalf("Root(nil) should be nil")
	}
}

func TestAnnotationsCopy(t *testing.T) {
	base := DataQualityf("not a number: %q", "12,34")
	withField := WithField(base, "value_as_number")
	withOp := WithOp(withField, "observation")

	e, _ := As(withOp)
	if e.Field() != "value_as_number" || e.Op() != "observation" || e.Code() != ErrorCodeDataQuality {
		t.Fatalf("annotations = %q %q %v", e.Field(), e.Op(), e.Code())
	}
	if orig, _ := As(base); orig.Field() != "" || orig.Op() != "" {
		t.Fatalf("original mutated")
	}
	foreign := stderrs.New("plain")
	if WithField(foreign, "x") != foreign {
		t.Fatalf("foreign errors pass through")
	}
}

func TestWireFrom(t *testing.T) {
	if WireFrom(nil) != (Wire{}) {
		t.Fatalf("nil should be zero")
	}
	w := WireFrom(WithField(InvalidArgf("parallelism must be positive"), "parallelism"))
	if w.Code != ErrorCodeInvalidArgument || w.Message != "parallelism must be positive" || w.Field != "parallelism" {
		t.Fatalf("wire = %+v", w)
	}
	if w := WireFrom(stderrs.New("boom")); w.Code != ErrorCodeUnknown || w.Message != "boom" {
		t.Fatalf("foreign wire = %+v", w)
	}
}

func TestConstructorsCarryCodes(t *testing.T) {
	for err, want := range map[error]ErrorCode{
		NotFoundf("stage %s", "x"):   ErrorCodeNotFound,
		Conflictf("run in progress"): ErrorCodeConflict,
		JSONErrf("empty body"):       ErrorCodeJSON,
		Unauthorizedf("no token"):    ErrorCodeUnauthorized,
		PanicErrf("stage panicked"):  ErrorCodePanic,
		Integrityf("key repeats"):    ErrorCodeIntegrity,
	} {
		if !IsCode(err, want) {
			t.Fatalf("%v: code %v, want %v", err, CodeOf(err), want)
		}
	}
}

func TestHasCodeWalksChain(t *testing.T) {
	inner := Wrap(stderrs.New("reset"), ErrorCodeTransientIO, "read window")
	outer := Wrap(fmt.Errorf("visit: %w", inner), ErrorCodeStageFailure, "stage visit_occurrence")

	if CodeOf(outer) != ErrorCodeStageFailure {
		t.Fatalf("CodeOf should report the outermost code")
	}
	if !HasCode(outer, ErrorCodeTransientIO) || HasCode(outer, ErrorCodeIntegrity) {
		t.Fatalf("HasCode walk wrong")
	}
	if !Retryable(outer) {
		t.Fatalf("a transient cause makes the window retryable")
	}
	if Retryable(Integrityf("missing surrogate")) {
		t.Fatalf("integrity failures are not retried")
	}
}
