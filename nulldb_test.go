package biztracing_test

import (
	"context"
	"database/sql/driver"
	"io"
)

type nullDriver struct {
	con driver.Conn
}

func (d *nullDriver) Open(_ string) (driver.Conn, error) {
	return d.con, nil
}

type nullResult struct {
	rowsAffected int64
}

func (r nullResult) LastInsertId() (int64, error) {
	return 0, nil
}

func (r nullResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

type nullStmt struct {
	con *nullCon
}

func (s *nullStmt) Close() error {
	return nil
}

func (s *nullStmt) NumInput() int {
	return -1
}

func (s *nullStmt) Query(_ []driver.Value) (driver.Rows, error) {
	return s.con.rows(), s.con.err
}

func (s *nullStmt) Exec(_ []driver.Value) (driver.Result, error) {
	return s.con.result()
}

func (s *nullStmt) QueryContext(_ context.Context, _ []driver.NamedValue) (driver.Rows, error) {
	return s.con.rows(), s.con.err
}

func (s *nullStmt) ExecContext(_ context.Context, _ []driver.NamedValue) (driver.Result, error) {
	return s.con.result()
}

// nullRows returns the values of its rows, followed by io.EOF.
type nullRows struct {
	values [][]driver.Value
	pos    int
}

func (r *nullRows) Close() error {
	return nil
}

func (r *nullRows) Columns() []string {
	return []string{"1"}
}

func (r *nullRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}

	copy(dest, r.values[r.pos])
	r.pos++

	return nil
}

type nullTx struct{}

func (t *nullTx) Commit() error {
	return nil
}

func (t *nullTx) Rollback() error {
	return nil
}

// nullCon returns rowValues for all queries and rowsAffected for all
// executed commands. When err is set, all commands fail with it, when
// panicValue is set, all commands panic with it.
type nullCon struct {
	rowValues    [][]driver.Value
	rowsAffected int64
	err          error
	panicValue   any
}

func (c *nullCon) rows() driver.Rows {
	if c.panicValue != nil {
		panic(c.panicValue)
	}

	if c.err != nil {
		return nil
	}

	return &nullRows{values: c.rowValues}
}

func (c *nullCon) result() (driver.Result, error) {
	if c.panicValue != nil {
		panic(c.panicValue)
	}

	if c.err != nil {
		return nil, c.err
	}

	return nullResult{rowsAffected: c.rowsAffected}, nil
}

func (c *nullCon) Prepare(_ string) (driver.Stmt, error) {
	return &nullStmt{con: c}, nil
}

func (c *nullCon) PrepareContext(_ context.Context, _ string) (driver.Stmt, error) {
	return &nullStmt{con: c}, nil
}

func (c *nullCon) Close() error { return nil }

func (c *nullCon) Begin() (driver.Tx, error) {
	return &nullTx{}, nil
}

func (c *nullCon) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	return &nullTx{}, nil
}

func (c *nullCon) QueryContext(_ context.Context, _ string, _ []driver.NamedValue) (driver.Rows, error) {
	return c.rows(), c.err
}

func (c *nullCon) ExecContext(_ context.Context, _ string, _ []driver.NamedValue) (driver.Result, error) {
	return c.result()
}

func (c *nullCon) Ping(_ context.Context) error {
	return nil
}
