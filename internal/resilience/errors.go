package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Kind classifies a failure. Kinds are assigned where the error is raised and
// survive any amount of wrapping, so callers never inspect message text.
type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindNetwork    Kind = "network"
	KindTimeout    Kind = "timeout"
	KindRateLimit  Kind = "rate_limit"
	KindServer     Kind = "server"
	KindScrape     Kind = "scrape"
	KindExtraction Kind = "extraction"
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
)

// Retryable reports whether failures of this kind are worth another attempt.
// Unknown failures are retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindValidation, KindConflict, KindAuth, KindNotFound:
		return false
	default:
		return true
	}
}

// Error is a classified error.
type Error struct {
	Kind       Kind
	Op         string
	Phase      string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError tags err with kind. A nil err yields nil.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: eris.Errorf(format, args...)}
}

// HTTPError classifies a failed HTTP exchange by its status code.
func HTTPError(op string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindFromHTTPStatus(statusCode), Op: op, StatusCode: statusCode, Err: err}
}

// WithPhase records the phase an error belongs to, keeping its kind.
func WithPhase(err error, phase string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Phase: phase, Err: err}
}

// KindOf returns the classification of err. Explicit tags win; otherwise the
// error chain is checked for context, network and driver errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}

	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) && exhausted.Last != nil {
		return KindOf(exhausted.Last)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return kindFromSQLState(pgErr.Code)
	}
	if pgconn.Timeout(err) {
		return KindTimeout
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return kindFromSQLiteCode(liteErr.Code())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return KindNetwork
	}

	return KindUnknown
}

// PhaseOf returns the phase recorded on err, if any.
func PhaseOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Phase != "" {
			return e.Phase
		}
		err = e.Err
	}
	return ""
}

// IsRetryable reports whether err is worth retrying. Cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err).Retryable()
}

// KindFromHTTPStatus maps an HTTP status code onto a Kind.
func KindFromHTTPStatus(statusCode int) Kind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimit
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return KindTimeout
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindAuth
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return KindNotFound
	case statusCode == http.StatusConflict:
		return KindConflict
	case statusCode >= 500:
		return KindServer
	case statusCode >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// HTTPStatus maps a Kind back onto the status a caller should see.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNetwork, KindServer, KindScrape, KindExtraction:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// SQLSTATE classes: 23 integrity violation, 22 data exception, 08 connection,
// 40 transaction rollback, 53 insufficient resources, 57 operator intervention.
func kindFromSQLState(code string) Kind {
	if len(code) < 2 {
		return KindUnknown
	}
	switch code[:2] {
	case "23":
		return KindConflict
	case "22", "42":
		return KindValidation
	case "28":
		return KindAuth
	case "08", "53", "57":
		return KindNetwork
	case "40":
		return KindServer
	default:
		return KindUnknown
	}
}

// kindFromSQLiteCode classifies an SQLite result code by its primary code;
// extended codes carry the primary code in the low byte.
func kindFromSQLiteCode(code int) Kind {
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return KindConflict
	case sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG, sqlite3.SQLITE_RANGE:
		return KindValidation
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return KindTimeout
	case sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
		return KindNetwork
	default:
		return KindUnknown
	}
}
