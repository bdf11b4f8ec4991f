// Package errors is the ETL error taxonomy. Import it as perr.
//
// Every failure that crosses a module boundary carries an ErrorCode. The code
// decides whether a window is retried, whether a row is skipped with an error
// record, and which HTTP status the API answers with
package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failure. Values are stable on the wire
type ErrorCode uint16

const (
	ErrorCodeUnknown ErrorCode = iota
	ErrorCodePanic
	ErrorCodeUnavailable
	ErrorCodeConflict
	ErrorCodeInvalidArgument
	ErrorCodeValidation
	ErrorCodeJSON
	ErrorCodeNotFound
	ErrorCodeDuplicateKey
	ErrorCodeDB
	// ErrorCodeTransientIO covers dropped connections and lock contention; the window is retried
	ErrorCodeTransientIO
	// ErrorCodeDataQuality is a malformed value in an otherwise readable row
	ErrorCodeDataQuality
	// ErrorCodeMappingGap is a code that resolved to the unmapped sentinel
	ErrorCodeMappingGap
	// ErrorCodeIntegrity is a reference to a surrogate or mapping that does not exist
	ErrorCodeIntegrity
	// ErrorCodeStageFailure is an unhandled failure stopped at a stage boundary
	ErrorCodeStageFailure
	// ErrorCodeCancelled is an operator stop observed between windows
	ErrorCodeCancelled
	ErrorCodeUnauthorized
)

var codeTable = map[ErrorCode]struct {
	name   string
	status int
}{
	ErrorCodeUnknown:         {"unknown", http.StatusInternalServerError},
	ErrorCodePanic:           {"panic", http.StatusInternalServerError},
	ErrorCodeUnavailable:     {"unavailable", http.StatusServiceUnavailable},
	ErrorCodeConflict:        {"conflict", http.StatusConflict},
	ErrorCodeInvalidArgument: {"invalid_argument", http.StatusUnprocessableEntity},
	ErrorCodeValidation:      {"validation", http.StatusBadRequest},
	ErrorCodeJSON:            {"json", http.StatusBadRequest},
	ErrorCodeNotFound:        {"not_found", http.StatusNotFound},
	ErrorCodeDuplicateKey:    {"duplicate_key", http.StatusConflict},
	ErrorCodeDB:              {"db", http.StatusInternalServerError},
	ErrorCodeTransientIO:     {"transient_io", http.StatusServiceUnavailable},
	ErrorCodeDataQuality:     {"data_quality", http.StatusUnprocessableEntity},
	ErrorCodeMappingGap:      {"mapping_gap", http.StatusUnprocessableEntity},
	ErrorCodeIntegrity:       {"integrity_violation", http.StatusInternalServerError},
	ErrorCodeStageFailure:    {"stage_failure", http.StatusInternalServerError},
	ErrorCodeCancelled:       {"cancelled", http.StatusConflict},
	ErrorCodeUnauthorized:    {"unauthorized", http.StatusUnauthorized},
}

// String returns the snake_case name, as stored in run summaries and row errors
func (c ErrorCode) String() string {
	if t, ok := codeTable[c]; ok {
		return t.name
	}
	return fmt.Sprintf("code(%d)", uint16(c))
}

// Status returns the HTTP status the API uses for c
func (c ErrorCode) Status() int {
	if t, ok := codeTable[c]; ok {
		return t.status
	}
	return http.StatusInternalServerError
}

// Error carries a code, a message, an optional field or column, an optional
// operation label, and the wrapped cause
type Error struct {
	code  ErrorCode
	msg   string
	field string
	op    string
	orig  error
}

func (e *Error) Error() string {
	if e.orig == nil {
		return e.msg
	}
	return e.msg + ": " + e.orig.Error()
}

func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() ErrorCode { return e.code }

// Field returns the offending field or column
func (e *Error) Field() string { return e.field }

// Op returns the operation label, such as the stage or file involved
func (e *Error) Op() string { return e.op }

// Wire is the error body the API returns
type Wire struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

// WireFrom converts any error to its API form
func WireFrom(err error) Wire {
	if e, ok := As(err); ok {
		return Wire{Code: e.code, Message: e.msg, Field: e.field}
	}
	if err == nil {
		return Wire{}
	}
	return Wire{Code: ErrorCodeUnknown, Message: err.Error()}
}

// As returns the outermost *Error in the chain
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrs.As(err, &e)
	return e, ok
}

// CodeOf returns the outermost code, or Unknown
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether the outermost code is code
func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// HasCode reports whether any *Error in the chain carries code
func HasCode(err error, code ErrorCode) bool {
	for ; err != nil; err = stderrs.Unwrap(err) {
		if e, ok := err.(*Error); ok && e.code == code {
			return true
		}
	}
	return false
}

// HTTPStatus maps err to a status, 200 for nil
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return CodeOf(err).Status()
}

// Root returns the innermost cause
func Root(err error) error {
	for {
		next := stderrs.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func annotate(err error, set func(*Error)) error {
	e, ok := As(err)
	if !ok {
		return err
	}
	c := *e
	set(&c)
	return &c
}

// WithField returns a copy of err naming the offending field. Errors that
// are not *Error are returned as is
func WithField(err error, field string) error {
	return annotate(err, func(e *Error) { e.field = field })
}

// WithOp returns a copy of err labelled with op
func WithOp(err error, op string) error {
	return annotate(err, func(e *Error) { e.op = op })
}

// New returns an error with code and msg
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf is New with formatting
func Newf(code ErrorCode, format string, a ...any) error {
	return New(code, fmt.Sprintf(format, a...))
}

// Wrap returns orig under code and msg
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf is Wrap with formatting
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return Wrap(orig, code, fmt.Sprintf(format, a...))
}

func NotFoundf(format string, a ...any) error     { return Newf(ErrorCodeNotFound, format, a...) }
func InvalidArgf(format string, a ...any) error   { return Newf(ErrorCodeInvalidArgument, format, a...) }
func Conflictf(format string, a ...any) error     { return Newf(ErrorCodeConflict, format, a...) }
func JSONErrf(format string, a ...any) error      { return Newf(ErrorCodeJSON, format, a...) }
func Unauthorizedf(format string, a ...any) error { return Newf(ErrorCodeUnauthorized, format, a...) }
func PanicErrf(format string, a ...any) error     { return Newf(ErrorCodePanic, format, a...) }
func DataQualityf(format string, a ...any) error  { return Newf(ErrorCodeDataQuality, format, a...) }
func Integrityf(format string, a ...any) error    { return Newf(ErrorCodeIntegrity, format, a...) }

// Retryable reports whether a window that failed with err should run again
func Retryable(err error) bool {
	return HasCode(err, ErrorCodeTransientIO) || IsRetryable(err)
}
