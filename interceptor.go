// Package biztracing records the business context of database operations on
// the spans of the package tracing.
//
// WrapDriver wraps a database/sql driver, every command that is executed
// with a context that contains a span enriches that span with the business
// context derived from the command text and its parameters, and with the
// outcome of the command. The package pgxtrace provides the same for
// pgx connections.
package biztracing

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/ngrok/sqlmw"

	"github.com/simplesurance/biztracing/bizctx"
	"github.com/simplesurance/biztracing/tracing"
)

// Interceptor enriches spans with the business context of database
// commands.
// It implements the sqlmw.Interceptor interface.
type Interceptor struct {
	cfg      *config
	enricher *Enricher
}

// NewInterceptor returns a new interceptor that enriches spans with the
// business context of database operations.
func NewInterceptor(opts ...Opt) *Interceptor {
	cfg := newConfig(opts)

	return &Interceptor{
		cfg:      cfg,
		enricher: newEnricher(cfg),
	}
}

// WrapDriver returns a driver that wraps the passed driver and records the
// business context of its operations.
func WrapDriver(drv driver.Driver, opts ...Opt) driver.Driver {
	return sqlmw.Driver(drv, NewInterceptor(opts...))
}

// Enricher returns the enricher that is used by the interceptor.
func (t *Interceptor) Enricher() *Enricher {
	return t.enricher
}

func (t *Interceptor) ConnBeginTx(ctx context.Context, con driver.ConnBeginTx, txOpts driver.TxOptions) (_ driver.Tx, err error) {
	var deferFn func(err error)

	deferFn, ctx = t.cfg.startSpan(ctx, OpSQLTxBegin, "")
	defer func() { deferFn(err) }()

	return con.BeginTx(ctx, txOpts)
}

func (t *Interceptor) ConnPrepareContext(ctx context.Context, con driver.ConnPrepareContext, query string) (_ driver.Stmt, err error) {
	var deferFn func(err error)

	deferFn, ctx = t.cfg.startSpan(ctx, OpSQLPrepare, query)
	defer func() { deferFn(err) }()

	return con.PrepareContext(ctx, query)
}

func (t *Interceptor) ConnPing(ctx context.Context, con driver.Pinger) (err error) {
	var deferFn func(err error)

	deferFn, ctx = t.cfg.startSpan(ctx, OpSQLPing, "")
	defer func() { deferFn(err) }()

	return con.Ping(ctx)
}

func (t *Interceptor) ConnExecContext(ctx context.Context, con driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	return t.exec(ctx, OpSQLConnExec, query, args, func(ctx context.Context) (driver.Result, error) {
		return con.ExecContext(ctx, query, args)
	})
}

func (t *Interceptor) ConnQueryContext(ctx context.Context, con driver.QueryerContext, query string, args []driver.NamedValue) (driver.Rows, error) {
	return t.query(ctx, OpSQLConnQuery, query, args, func(ctx context.Context) (driver.Rows, error) {
		return con.QueryContext(ctx, query, args)
	})
}

func (t *Interceptor) ConnectorConnect(ctx context.Context, connector driver.Connector) (_ driver.Conn, err error) {
	var deferFn func(err error)

	deferFn, ctx = t.cfg.startSpan(ctx, OpSQLConnect, "")
	defer func() { deferFn(err) }()

	return connector.Connect(ctx)
}

func (t *Interceptor) ResultLastInsertId(res driver.Result) (int64, error) {
	return res.LastInsertId()
}

func (t *Interceptor) ResultRowsAffected(res driver.Result) (int64, error) {
	return res.RowsAffected()
}

func (t *Interceptor) RowsNext(_ context.Context, rows driver.Rows, dest []driver.Value) error {
	return rows.Next(dest)
}

func (t *Interceptor) RowsClose(_ context.Context, rows driver.Rows) error {
	if tracedRows, ok := rows.(*tracedRows); ok {
		// nil instead of the close error is passed because it finishes
		// the query, which succeeded
		defer tracedRows.parentSpanFinishFn(nil)
	}

	return rows.Close()
}

func (t *Interceptor) StmtExecContext(ctx context.Context, stmt driver.StmtExecContext, query string, args []driver.NamedValue) (driver.Result, error) {
	return t.exec(ctx, OpSQLStmtExec, query, args, func(ctx context.Context) (driver.Result, error) {
		return stmt.ExecContext(ctx, args)
	})
}

func (t *Interceptor) StmtQueryContext(ctx context.Context, stmt driver.StmtQueryContext, query string, args []driver.NamedValue) (driver.Rows, error) {
	return t.query(ctx, OpSQLStmtQuery, query, args, func(ctx context.Context) (driver.Rows, error) {
		return stmt.QueryContext(ctx, args)
	})
}

func (t *Interceptor) StmtClose(_ context.Context, stmt driver.Stmt) error {
	return stmt.Close()
}

func (t *Interceptor) TxCommit(ctx context.Context, tx driver.Tx) (err error) {
	var deferFn func(err error)

	deferFn, _ = t.cfg.startSpan(ctx, OpSQLTxCommit, "")
	defer func() { deferFn(err) }()

	return tx.Commit()
}

func (t *Interceptor) TxRollback(ctx context.Context, tx driver.Tx) (err error) {
	var deferFn func(err error)

	deferFn, _ = t.cfg.startSpan(ctx, OpSQLTxRollback, "")
	defer func() { deferFn(err) }()

	return tx.Rollback()
}

func (t *Interceptor) exec(
	ctx context.Context,
	op SQLOp,
	query string,
	args []driver.NamedValue,
	fn func(context.Context) (driver.Result, error),
) (driver.Result, error) {
	if t.cfg.opIsExcluded(op) {
		return fn(ctx)
	}

	cmd := newCommand(KindFromContext(ctx, false), query, args)

	deferFn, ctx := t.cfg.startSpan(ctx, op, query)
	t.enricher.Before(ctx, cmd)

	start := time.Now()
	defer t.finishOnPanic(ctx, cmd, start, deferFn)

	res, err := fn(ctx)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, driver.ErrSkip):
		// database/sql retries the command with a prepared statement
	case err != nil:
		t.enricher.AfterFailure(ctx, cmd, elapsed, err)
	default:
		t.enricher.AfterSuccess(ctx, cmd, elapsed, rowsAffected(res))
	}

	deferFn(err)

	return res, err
}

func (t *Interceptor) query(
	ctx context.Context,
	op SQLOp,
	query string,
	args []driver.NamedValue,
	fn func(context.Context) (driver.Rows, error),
) (driver.Rows, error) {
	if t.cfg.opIsExcluded(op) {
		return fn(ctx)
	}

	cmd := newCommand(KindFromContext(ctx, true), query, args)
	enclosing := tracing.SpanFromContext(ctx)

	deferFn, ctx := t.cfg.startSpan(ctx, op, query)
	t.enricher.Before(ctx, cmd)

	start := time.Now()
	defer t.finishOnPanic(ctx, cmd, start, deferFn)

	rows, err := fn(ctx)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, driver.ErrSkip):
		deferFn(err)
		return rows, err
	case err != nil:
		t.enricher.AfterFailure(ctx, cmd, elapsed, err)
		deferFn(err)
		return rows, err
	}

	t.enricher.AfterSuccess(ctx, cmd, elapsed, -1)

	if tracing.SpanFromContext(ctx) == enclosing {
		return rows, nil
	}

	// the command span ends when the rows are closed
	return newTracedRows(deferFn, rows), nil
}

// finishOnPanic records a panic of the driver as failure of cmd, ends the
// command span and panics again with the same value.
func (t *Interceptor) finishOnPanic(ctx context.Context, cmd Command, start time.Time, deferFn func(error)) {
	p := recover()
	if p == nil {
		return
	}

	err := tracing.PanicError(p)
	t.enricher.AfterFailure(ctx, cmd, time.Since(start), err)
	deferFn(err)

	panic(p)
}

func newCommand(kind CommandKind, query string, args []driver.NamedValue) Command {
	cmd := Command{
		Kind: kind,
		Text: query,
	}

	if len(args) > 0 {
		cmd.Params = make([]bizctx.Param, 0, len(args))

		for _, arg := range args {
			cmd.Params = append(cmd.Params, bizctx.Param{Name: arg.Name, Value: arg.Value})
		}
	}

	return cmd
}

// rowsAffected returns -1 if the driver does not report the number of
// affected rows.
func rowsAffected(res driver.Result) int64 {
	if res == nil {
		return -1
	}

	n, err := res.RowsAffected()
	if err != nil {
		return -1
	}

	return n
}

var _ sqlmw.Interceptor = &Interceptor{}
