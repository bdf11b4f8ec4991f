package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// sqlStates maps the SQLSTATEs an ETL window can hit to the taxonomy. Class
// 08 (connection exception) is matched by prefix in DBErrorCode
var sqlStates = map[string]ErrorCode{
	"23505": ErrorCodeDuplicateKey,
	"23503": ErrorCodeIntegrity, // a row referenced an id no mapping stage produced
	"23502": ErrorCodeValidation,
	"23514": ErrorCodeValidation,
	"22001": ErrorCodeDataQuality,
	"22P02": ErrorCodeDataQuality,
	"22003": ErrorCodeDataQuality,
	"22007": ErrorCodeDataQuality,
	"22008": ErrorCodeDataQuality,
	"40001": ErrorCodeTransientIO,
	"40P01": ErrorCodeTransientIO,
	"55P03": ErrorCodeTransientIO,
	"57P01": ErrorCodeTransientIO,
	"57P02": ErrorCodeTransientIO,
	"57P03": ErrorCodeTransientIO,
	"25006": ErrorCodeUnavailable,
}

// contention is the subset of transient states caused by other writers
var contention = map[string]bool{"40001": true, "40P01": true, "55P03": true}

// contentionText covers errors pgx reports without a SQLSTATE, such as a
// failed COMMIT
var contentionText = []string{
	"commit unexpectedly resulted in rollback",
	"deadlock detected",
	"could not serialize access",
	"canceling statement due to lock timeout",
	"could not obtain lock on row",
}

var droppedText = []string{
	"conn closed",
	"connection reset by peer",
	"broken pipe",
	"terminating connection due to administrator command",
}

// ExtractPgError returns the server error in the chain, if the server answered
func ExtractPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	ok := stderrs.As(err, &pgErr)
	return pgErr, ok
}

// DBErrorCode classifies a server error. ok is false when err carries no
// SQLSTATE
func DBErrorCode(err error) (code ErrorCode, ok bool) {
	pgErr, ok := ExtractPgError(err)
	if !ok {
		return ErrorCodeUnknown, false
	}
	if c, known := sqlStates[pgErr.Code]; known {
		return c, true
	}
	if strings.HasPrefix(pgErr.Code, "08") {
		return ErrorCodeTransientIO, true
	}
	return ErrorCodeDB, true
}

// FromPostgres tags a database error with its taxonomy code. nil stays nil
func FromPostgres(err error, msg string) error {
	if err == nil {
		return nil
	}
	code, ok := DBErrorCode(err)
	switch {
	case ok:
	case IsTransient(err):
		code = ErrorCodeTransientIO
	default:
		code = ErrorCodeDB
	}
	return Wrap(err, code, msg)
}

// FromPostgresf is FromPostgres with formatting
func FromPostgresf(err error, format string, a ...any) error {
	return FromPostgres(err, fmt.Sprintf(format, a...))
}

func cancelled(err error) bool {
	return stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded)
}

func rootText(err error) string { return strings.ToLower(Root(err).Error()) }

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsRetryable reports lock contention: serialization failures, deadlocks and
// lock timeouts. Local cancellation never qualifies
func IsRetryable(err error) bool {
	if err == nil || cancelled(err) {
		return false
	}
	if pgErr, ok := ExtractPgError(err); ok {
		return contention[pgErr.Code]
	}
	return containsAny(rootText(err), contentionText)
}

// IsTransient reports contention or a lost connection
func IsTransient(err error) bool {
	if err == nil || cancelled(err) {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	if code, ok := DBErrorCode(err); ok {
		return code == ErrorCodeTransientIO
	}
	var netErr net.Error
	switch {
	case pgconn.SafeToRetry(err), pgconn.Timeout(err), stderrs.As(err, &netErr):
		return true
	case stderrs.Is(err, io.EOF), stderrs.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return containsAny(rootText(err), droppedText)
}

// Classify tags an untagged error, preferring TransientIO so the window is
// retried. Errors that already carry a code are returned unchanged
func Classify(err error, msg string) error {
	if _, tagged := As(err); tagged || err == nil {
		return err
	}
	if IsTransient(err) {
		return Wrap(err, ErrorCodeTransientIO, msg)
	}
	return FromPostgres(err, msg)
}
