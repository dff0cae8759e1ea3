package biztracing

// SQLOp is the name of an sql operation.
// It can be passed to the WithOpsExcluded() option, command spans are named
// after it.
type SQLOp string

const (
	OpSQLPrepare    SQLOp = "sql-prepare"
	OpSQLConnExec   SQLOp = "sql-conn-exec"
	OpSQLConnQuery  SQLOp = "sql-conn-query"
	OpSQLStmtExec   SQLOp = "sql-stmt-exec"
	OpSQLStmtQuery  SQLOp = "sql-stmt-query"
	OpSQLTxBegin    SQLOp = "sql-tx-begin"
	OpSQLTxCommit   SQLOp = "sql-tx-commit"
	OpSQLTxRollback SQLOp = "sql-tx-rollback"
	OpSQLPing       SQLOp = "sql-ping"
	OpSQLConnect    SQLOp = "sql-connect"
	OpPgxQuery      SQLOp = "pgx-query"
)

// String returns the string representation of SQLOp.
func (s SQLOp) String() string {
	return string(s)
}

