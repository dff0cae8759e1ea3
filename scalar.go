package biztracing

import (
	"context"
	"database/sql"
)

type scalarKey struct{}

// WithScalar marks the commands that are executed with the returned context
// as KindScalar.
func WithScalar(ctx context.Context) context.Context {
	return context.WithValue(ctx, scalarKey{}, true)
}

// KindFromContext returns KindScalar if ctx was marked via WithScalar,
// otherwise KindQuery for commands that return rows and KindNonQuery for
// the others.
func KindFromContext(ctx context.Context, returnsRows bool) CommandKind {
	if scalar, _ := ctx.Value(scalarKey{}).(bool); scalar {
		return KindScalar
	}

	if returnsRows {
		return KindQuery
	}

	return KindNonQuery
}

// RowQueryer is implemented by *sql.DB, *sql.Conn and *sql.Tx.
type RowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// QueryScalar runs a query that returns a single value and scans it into
// dest. The command is recorded as KindScalar.
func QueryScalar(ctx context.Context, db RowQueryer, dest any, query string, args ...any) error {
	return db.QueryRowContext(WithScalar(ctx), query, args...).Scan(dest)
}
