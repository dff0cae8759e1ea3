package biztracing

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/biztracing/tracing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.Canceled, ErrTypeCanceled},
		{fmt.Errorf("query: %w", context.DeadlineExceeded), ErrTypeTimeout},
		{sql.ErrNoRows, ErrTypeNoRows},
		{driver.ErrBadConn, ErrTypeBadConnection},
		{sql.ErrTxDone, ErrTypeTxDone},
		{&pgconn.PgError{Code: "23505"}, ErrTypePostgres},
		{errors.New("unknown"), ErrTypeDriver},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestAfterFailureRecordsPostgresErrorCode(t *testing.T) {
	span, ctx := tracing.NewTracer(nil).StartSpan(context.Background(), "op")

	e := NewEnricher()
	e.AfterFailure(ctx,
		Command{Kind: KindNonQuery, Text: "INSERT INTO categories (name) VALUES ($1)"},
		time.Millisecond,
		fmt.Errorf("insert category: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key"}),
	)

	v, found := span.Tag(TagErrorCode)
	require.True(t, found)
	assert.Equal(t, "23505", v.AsString())

	v, found = span.Tag(TagOperationDuration)
	require.True(t, found)
	assert.InDelta(t, 1.0, v.AsFloat64(), 0.0001)
}

func TestEnricherWithoutSpan(t *testing.T) {
	e := NewEnricher()
	cmd := Command{Kind: KindQuery, Text: "SELECT * FROM categories"}

	assert.NotPanics(t, func() {
		e.Before(context.Background(), cmd)
		e.AfterSuccess(context.Background(), cmd, time.Second, 1)
		e.AfterFailure(context.Background(), cmd, time.Second, errors.New("x"))
	})
}
