package biztracing_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/simplesurance/biztracing"
	"github.com/simplesurance/biztracing/tracing"
	"github.com/simplesurance/biztracing/tracing/tracingtest"
)

func mustNewDB(t *testing.T, con *nullCon, opts ...biztracing.Opt) *sql.DB {
	t.Helper()

	driverName := "traced-nulldb-" + fmt.Sprint(time.Now().UnixNano())

	sql.Register(driverName, biztracing.WrapDriver(&nullDriver{con: con}, opts...))

	db, err := sql.Open(driverName, "")
	require.NoError(t, err, "could not open database")
	require.NotNil(t, db, "sql.open returned nil db")

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func mustStartRootSpan(t *testing.T, name string) (*tracingtest.Recorder, *tracing.Span, context.Context) {
	t.Helper()

	rec := tracingtest.NewRecorder()
	span, ctx := tracing.NewTracer(rec).StartSpan(context.Background(), name, tracing.WithKind(tracing.KindServer))

	return rec, span, ctx
}

func requireFinished(t *testing.T, rec *tracingtest.Recorder, name string) tracing.SpanData {
	t.Helper()

	d, found := rec.FindFinished(name)
	require.Truef(t, found, "span %q was not recorded", name)

	return d
}

func assertTag(t *testing.T, d tracing.SpanData, key string, want any) {
	t.Helper()

	v, found := d.Tag(key)
	if assert.Truef(t, found, "span %q has no tag %q", d.Name, key) {
		assert.Equalf(t, want, v.Interface(), "tag %q", key)
	}
}

func assertNoTag(t *testing.T, d tracing.SpanData, key string) {
	t.Helper()

	v, found := d.Tag(key)
	assert.Falsef(t, found, "span %q should not have tag %q, has %v", d.Name, key, v)
}

func findEvent(d tracing.SpanData, name string) (tracing.Event, bool) {
	for _, ev := range d.Events {
		if ev.Name == name {
			return ev, true
		}
	}

	return tracing.Event{}, false
}

func eventTags(ev tracing.Event) map[string]any {
	res := make(map[string]any, len(ev.Tags))
	for _, tag := range ev.Tags {
		res[tag.Key] = tag.Value.Interface()
	}

	return res
}

func TestExecEnrichesCurrentSpan(t *testing.T) {
	db := mustNewDB(t, &nullCon{rowsAffected: 2})
	rec, root, ctx := mustStartRootSpan(t, "PUT /debts/1")

	_, err := db.ExecContext(ctx,
		"UPDATE debts SET sum = @sum WHERE id = @id",
		sql.Named("sum", 10), sql.Named("id", 1),
	)
	require.NoError(t, err)

	root.End()

	d := requireFinished(t, rec, "PUT /debts/1")
	assertTag(t, d, biztracing.TagOperationType, "MODIFY")
	assertTag(t, d, "db.sql_operation", "UPDATE")
	assertTag(t, d, "business.operation_type", "update")
	assertTag(t, d, "business.entity_type", "debt")
	assertTag(t, d, "business.amount", "10")
	assertTag(t, d, "db.parameter_count", int64(2))
	assertTag(t, d, biztracing.TagPrimaryEntity, "debt")
	assertTag(t, d, biztracing.TagCategory, "debt_management")
	assertTag(t, d, biztracing.TagPriority, "medium")
	assertTag(t, d, biztracing.TagOperationSuccess, true)
	assertTag(t, d, biztracing.TagRecordsAffected, int64(2))
	assertTag(t, d, "parent.operation_name", "PUT /debts/1")

	ev, found := findEvent(d, biztracing.EventOperationCompleted)
	require.True(t, found)

	tags := eventTags(ev)
	assert.Equal(t, "MODIFY", tags["operation_type"])
	assert.Equal(t, true, tags["success"])
	assert.Equal(t, int64(2), tags["records_affected"])
	assert.Contains(t, tags, "duration_ms")
}

func TestQueryEnrichesCurrentSpan(t *testing.T) {
	db := mustNewDB(t, &nullCon{rowValues: [][]driver.Value{{int64(1)}, {int64(2)}}})
	rec, root, ctx := mustStartRootSpan(t, "GET /operations")

	rows, err := db.QueryContext(ctx,
		"SELECT * FROM operations o JOIN categories c ON c.id = o.category_id WHERE o.user_id = @userId",
		sql.Named("userId", "u-1"),
	)
	require.NoError(t, err)

	for rows.Next() {
	}
	require.NoError(t, rows.Close())

	root.End()

	d := requireFinished(t, rec, "GET /operations")
	assertTag(t, d, biztracing.TagOperationType, "SELECT")
	assertTag(t, d, "business.entity_types", "financial_operation,category")
	assertTag(t, d, "business.user_id", "u-1")
	assertTag(t, d, biztracing.TagPriority, "low")
	assertNoTag(t, d, "business.entity_type")
	assertNoTag(t, d, biztracing.TagPrimaryEntity)
	assertNoTag(t, d, biztracing.TagRecordsAffected)
	assertTag(t, d, biztracing.TagOperationSuccess, true)
}

func TestQueryScalar(t *testing.T) {
	db := mustNewDB(t, &nullCon{rowValues: [][]driver.Value{{int64(42)}}})
	rec, root, ctx := mustStartRootSpan(t, "GET /categories/count")

	var count int64
	err := biztracing.QueryScalar(ctx, db, &count, "SELECT COUNT(*) FROM categories")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)

	root.End()

	d := requireFinished(t, rec, "GET /categories/count")
	assertTag(t, d, biztracing.TagOperationType, "SCALAR")
	assertTag(t, d, "business.entity_type", "category")
}

func TestFailurePropagatesUnchanged(t *testing.T) {
	wantErr := errors.New("constraint violated")
	db := mustNewDB(t, &nullCon{err: wantErr})
	rec, root, ctx := mustStartRootSpan(t, "POST /operations")

	_, err := db.ExecContext(ctx, "INSERT INTO operations (sum) VALUES (@sum)", sql.Named("sum", 5))
	assert.Same(t, wantErr, err)

	root.End()

	d := requireFinished(t, rec, "POST /operations")
	assertTag(t, d, biztracing.TagOperationSuccess, false)
	assertTag(t, d, biztracing.TagErrorType, biztracing.ErrTypeDriver)
	assertTag(t, d, biztracing.TagPriority, "high")
	assertNoTag(t, d, biztracing.TagErrorCode)
	assertNoTag(t, d, biztracing.TagRecordsAffected)

	ev, found := findEvent(d, biztracing.EventOperationCompleted)
	require.True(t, found)

	tags := eventTags(ev)
	assert.Equal(t, "FAILED", tags["operation_type"])
	assert.Equal(t, false, tags["success"])
	assert.Equal(t, "constraint violated", tags["error_message"])
	assert.Equal(t, biztracing.ErrTypeDriver, tags["error_type"])

	status, _ := root.Status()
	assert.Equal(t, tracing.StatusUnset, status, "the enclosing span status is owned by its creator")
}

func TestDriverPanicEndsCommandSpan(t *testing.T) {
	for _, tc := range []struct {
		name string
		op   biztracing.SQLOp
		run  func(context.Context, *sql.DB)
	}{
		{
			name: "exec",
			op:   biztracing.OpSQLConnExec,
			run: func(ctx context.Context, db *sql.DB) {
				_, _ = db.ExecContext(ctx, "DELETE FROM cars WHERE id = 1")
			},
		},
		{
			name: "query",
			op:   biztracing.OpSQLConnQuery,
			run: func(ctx context.Context, db *sql.DB) {
				_, _ = db.QueryContext(ctx, "SELECT * FROM cars")
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db := mustNewDB(t, &nullCon{panicValue: "connection lost"}, biztracing.WithCommandSpans())
			rec, root, ctx := mustStartRootSpan(t, "GET /cars")

			assert.PanicsWithValue(t, "connection lost", func() { tc.run(ctx, db) })

			root.End()

			cmdSpan := requireFinished(t, rec, tc.op.String())
			assert.Equal(t, tracing.StatusError, cmdSpan.Status)
			assertTag(t, cmdSpan, biztracing.TagOperationSuccess, false)

			ev, found := findEvent(cmdSpan, biztracing.EventOperationCompleted)
			require.True(t, found)
			assert.Equal(t, "panic: connection lost", eventTags(ev)["error_message"])
		})
	}
}

func TestWithoutSpanNothingIsRecorded(t *testing.T) {
	db := mustNewDB(t, &nullCon{rowsAffected: 1}, biztracing.WithCommandSpans())

	_, err := db.ExecContext(context.Background(), "DELETE FROM cars")
	require.NoError(t, err)
}

func TestOpsExcluded(t *testing.T) {
	db := mustNewDB(t, &nullCon{rowsAffected: 1}, biztracing.WithOpsExcluded(biztracing.OpSQLConnExec))
	rec, root, ctx := mustStartRootSpan(t, "DELETE /cars/1")

	_, err := db.ExecContext(ctx, "DELETE FROM cars WHERE id = 1")
	require.NoError(t, err)

	root.End()

	d := requireFinished(t, rec, "DELETE /cars/1")
	assert.Empty(t, d.Tags)
	assert.Empty(t, d.Events)
}

func TestCommandSpans(t *testing.T) {
	db := mustNewDB(t, &nullCon{rowValues: [][]driver.Value{{int64(1)}}}, biztracing.WithCommandSpans())
	rec, root, ctx := mustStartRootSpan(t, "GET /places")
	root.SetTag(tracing.String("user.id", "7"))

	rows, err := db.QueryContext(ctx, "SELECT * FROM places")
	require.NoError(t, err)

	_, found := rec.FindFinished(biztracing.OpSQLConnQuery.String())
	assert.False(t, found, "query span must end when the rows are closed")

	for rows.Next() {
	}
	require.NoError(t, rows.Close())

	root.End()

	cmdSpan := requireFinished(t, rec, biztracing.OpSQLConnQuery.String())
	assert.Equal(t, root.ID(), cmdSpan.ParentID)
	assert.Equal(t, tracing.KindClient, cmdSpan.Kind)
	assert.Equal(t, tracing.StatusOK, cmdSpan.Status)
	assertTag(t, cmdSpan, biztracing.DBStatementTagKey, "SELECT * FROM places")
	assertTag(t, cmdSpan, "business.entity_type", "place")
	assertTag(t, cmdSpan, "parent.operation_name", "GET /places")
	assertTag(t, cmdSpan, "parent.user.id", "7")

	d := requireFinished(t, rec, "GET /places")
	assertNoTag(t, d, "business.entity_type")
}

func TestCommandSpansForTransactions(t *testing.T) {
	db := mustNewDB(t, &nullCon{rowsAffected: 1}, biztracing.WithCommandSpans())
	rec, root, ctx := mustStartRootSpan(t, "POST /debts")

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx, "INSERT INTO debts (sum) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	root.End()

	for _, op := range []biztracing.SQLOp{biztracing.OpSQLTxBegin, biztracing.OpSQLConnExec} {
		d := requireFinished(t, rec, op.String())
		assert.Equalf(t, root.ID(), d.ParentID, "parent of %s", op)
	}
}

func TestPreparedStatement(t *testing.T) {
	db := mustNewDB(t, &nullCon{rowsAffected: 3}, biztracing.WithCommandSpans())
	rec, root, ctx := mustStartRootSpan(t, "PATCH /categories")

	stmt, err := db.PrepareContext(ctx, "UPDATE categories SET name = @name")
	require.NoError(t, err)

	_, err = stmt.ExecContext(ctx, sql.Named("name", "food"))
	require.NoError(t, err)
	require.NoError(t, stmt.Close())

	root.End()

	requireFinished(t, rec, biztracing.OpSQLPrepare.String())

	d := requireFinished(t, rec, biztracing.OpSQLStmtExec.String())
	assert.Equal(t, root.ID(), d.ParentID)
	assertTag(t, d, "business.entity_type", "category")
	assertTag(t, d, biztracing.TagRecordsAffected, int64(3))
}

func TestEnrichmentFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	wantErr := errors.New("broken")

	db := mustNewDB(t, &nullCon{err: wantErr},
		biztracing.WithLogger(zap.New(core)),
		biztracing.WithErrorClassifier(func(error) string { panic("classifier bug") }),
	)
	_, _, ctx := mustStartRootSpan(t, "op")

	var err error
	assert.NotPanics(t, func() {
		_, err = db.ExecContext(ctx, "DELETE FROM debts")
	})
	assert.Same(t, wantErr, err)

	entries := logs.FilterMessage("enriching span with business context failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "after-failure", entries[0].ContextMap()["stage"])
}
