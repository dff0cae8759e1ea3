package biztracing

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorClassifier returns the value of the db.error_type tag for a failed
// database command.
type ErrorClassifier func(err error) string

const (
	ErrTypeCanceled      = "canceled"
	ErrTypeTimeout       = "timeout"
	ErrTypeNoRows        = "no_rows"
	ErrTypeBadConnection = "bad_connection"
	ErrTypeTxDone        = "tx_done"
	ErrTypePostgres      = "postgres_error"
	ErrTypeDriver        = "driver_error"
)

// ClassifyError is the default ErrorClassifier.
func ClassifyError(err error) string {
	var pgErr *pgconn.PgError

	switch {
	case errors.Is(err, context.Canceled):
		return ErrTypeCanceled
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return ErrTypeTimeout
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, pgx.ErrNoRows):
		return ErrTypeNoRows
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return ErrTypeBadConnection
	case errors.Is(err, sql.ErrTxDone), errors.Is(err, pgx.ErrTxClosed):
		return ErrTypeTxDone
	case errors.As(err, &pgErr):
		return ErrTypePostgres
	default:
		return ErrTypeDriver
	}
}

// errorCode returns the SQLSTATE code of PostgreSQL errors.
func errorCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}

	return "", false
}
