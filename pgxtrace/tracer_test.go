package pgxtrace_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/biztracing"
	"github.com/simplesurance/biztracing/bizctx"
	"github.com/simplesurance/biztracing/pgxtrace"
	"github.com/simplesurance/biztracing/tracing"
	"github.com/simplesurance/biztracing/tracing/tracingtest"
)

func runQuery(ctx context.Context, tracer *pgxtrace.Tracer, sql string, args []any, tag pgconn.CommandTag, err error) {
	ctx = tracer.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: sql, Args: args})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: tag, Err: err})
}

func tagValue(t *testing.T, d tracing.SpanData, key string) any {
	t.Helper()

	v, found := d.Tag(key)
	require.Truef(t, found, "tag %q is missing", key)

	return v.Interface()
}

func TestNonQuery(t *testing.T) {
	rec := tracingtest.NewRecorder()
	root, ctx := tracing.NewTracer(rec).StartSpan(context.Background(), "DELETE /operations/5")

	tracer := pgxtrace.New(biztracing.NewEnricher())
	runQuery(ctx, tracer,
		"DELETE FROM operations WHERE id = @operationId",
		[]any{pgx.NamedArgs{"operationId": 5}},
		pgconn.NewCommandTag("DELETE 1"),
		nil,
	)

	root.End()

	d, found := rec.FindFinished("DELETE /operations/5")
	require.True(t, found)

	assert.Equal(t, "MODIFY", tagValue(t, d, biztracing.TagOperationType))
	assert.Equal(t, "delete", tagValue(t, d, "business.operation_type"))
	assert.Equal(t, "5", tagValue(t, d, "business.operation_id"))
	assert.Equal(t, "high", tagValue(t, d, biztracing.TagPriority))
	assert.Equal(t, int64(1), tagValue(t, d, biztracing.TagRecordsAffected))
	assert.Equal(t, true, tagValue(t, d, biztracing.TagOperationSuccess))
}

func TestQueryWithReturning(t *testing.T) {
	for _, sql := range []string{
		"INSERT INTO debts (sum) VALUES ($1) RETURNING id",
		"INSERT INTO debts (sum)\nVALUES ($1)\nRETURNING id",
		"INSERT INTO debts (sum) VALUES ($1)\treturning\tid",
		"DELETE FROM debts WHERE sum = $1 RETURNING",
	} {
		t.Run(sql, func(t *testing.T) {
			rec := tracingtest.NewRecorder()
			root, ctx := tracing.NewTracer(rec).StartSpan(context.Background(), "POST /debts")

			tracer := pgxtrace.New(biztracing.NewEnricher())
			runQuery(ctx, tracer,
				sql,
				[]any{pgx.QueryExecModeSimpleProtocol, 100},
				pgconn.NewCommandTag("INSERT 0 1"),
				nil,
			)

			root.End()

			d, _ := rec.FindFinished("POST /debts")
			assert.Equal(t, "SELECT", tagValue(t, d, biztracing.TagOperationType))
			assert.Equal(t, int64(1), tagValue(t, d, "db.parameter_count"))

			_, found := d.Tag(biztracing.TagRecordsAffected)
			assert.False(t, found)
		})
	}
}

func TestColumnNamedLikeReturningIsModify(t *testing.T) {
	rec := tracingtest.NewRecorder()
	root, ctx := tracing.NewTracer(rec).StartSpan(context.Background(), "PUT /debts/1")

	tracer := pgxtrace.New(biztracing.NewEnricher())
	runQuery(ctx, tracer,
		"UPDATE debts SET returning_at = now() WHERE id = $1",
		[]any{1},
		pgconn.NewCommandTag("UPDATE 1"),
		nil,
	)

	root.End()

	d, _ := rec.FindFinished("PUT /debts/1")
	assert.Equal(t, "MODIFY", tagValue(t, d, biztracing.TagOperationType))
	assert.Equal(t, int64(1), tagValue(t, d, biztracing.TagRecordsAffected))
}

func TestFailureWithCommandSpan(t *testing.T) {
	rec := tracingtest.NewRecorder()
	root, ctx := tracing.NewTracer(rec).StartSpan(context.Background(), "POST /categories")

	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}

	tracer := pgxtrace.New(biztracing.NewEnricher(), pgxtrace.WithCommandSpans())
	runQuery(ctx, tracer,
		"INSERT INTO categories (name) VALUES ($1)",
		[]any{"food"},
		pgconn.CommandTag{},
		pgErr,
	)

	root.End()

	d, found := rec.FindFinished(biztracing.OpPgxQuery.String())
	require.True(t, found)

	assert.Equal(t, root.ID(), d.ParentID)
	assert.Equal(t, tracing.KindClient, d.Kind)
	assert.Equal(t, tracing.StatusError, d.Status)
	assert.Equal(t, biztracing.ErrTypePostgres, tagValue(t, d, biztracing.TagErrorType))
	assert.Equal(t, "23505", tagValue(t, d, biztracing.TagErrorCode))
	assert.Equal(t, "POST /categories", tagValue(t, d, "parent.operation_name"))
}

func TestScalar(t *testing.T) {
	rec := tracingtest.NewRecorder()
	root, ctx := tracing.NewTracer(rec).StartSpan(context.Background(), "op")

	tracer := pgxtrace.New(biztracing.NewEnricher())
	runQuery(biztracing.WithScalar(ctx), tracer, "SELECT count(*) FROM places", nil, pgconn.NewCommandTag("SELECT 1"), nil)

	root.End()

	d, _ := rec.FindFinished("op")
	assert.Equal(t, "SCALAR", tagValue(t, d, biztracing.TagOperationType))
}

func TestWithoutSpan(t *testing.T) {
	tracer := pgxtrace.New(biztracing.NewEnricher(), pgxtrace.WithCommandSpans())

	assert.NotPanics(t, func() {
		runQuery(context.Background(), tracer, "SELECT 1", nil, pgconn.CommandTag{}, errors.New("x"))
	})
}

func TestParams(t *testing.T) {
	params := pgxtrace.Params([]any{
		pgx.QueryResultFormats{pgx.TextFormatCode},
		"a",
		pgx.NamedArgs{"userId": 1, "amount": 2.5},
		nil,
	})

	assert.Equal(t, []bizctx.Param{
		{Name: "$1", Value: "a"},
		{Name: "amount", Value: 2.5},
		{Name: "userId", Value: 1},
		{Name: "$2", Value: nil},
	}, params)

	assert.Nil(t, pgxtrace.Params(nil))
}
