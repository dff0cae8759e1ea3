package biztracing

import (
	"database/sql/driver"
)

// tracedRows ends the command span of a query when the rows are closed.
type tracedRows struct {
	driver.Rows
	parentSpanFinishFn func(err error)
}

func newTracedRows(parentSpanFinishFn func(error), rows driver.Rows) *tracedRows {
	return &tracedRows{
		Rows:               rows,
		parentSpanFinishFn: parentSpanFinishFn,
	}
}
