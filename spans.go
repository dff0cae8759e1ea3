package biztracing

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/simplesurance/biztracing/tracing"
)

// DBStatementTagKey is the name of the tag that contains the statement of
// a command span.
const DBStatementTagKey = "db.statement"

type enclosingSpanKey struct{}

// startSpan starts a command span if command spans are enabled and op is
// not excluded.
func (cfg *config) startSpan(ctx context.Context, op SQLOp, query string) (func(err error), context.Context) {
	if !cfg.commandSpans || cfg.opIsExcluded(op) {
		return func(error) {}, ctx
	}

	return StartCommandSpan(ctx, op, query)
}

// StartCommandSpan starts a client span named after op as child of the
// current span of ctx, with the tracer of that span. If ctx contains no
// span, no span is started. The returned function must be called to end
// the span, an error passed to it is recorded on the span.
// Commands that are enriched with the returned context record their
// business context on the command span and use the current span of ctx as
// parent span for the extraction.
func StartCommandSpan(ctx context.Context, op SQLOp, query string) (func(err error), context.Context) {
	parent := tracing.SpanFromContext(ctx)
	if parent == nil || parent.Tracer() == nil {
		return func(error) {}, ctx
	}

	span, ctx := parent.Tracer().StartSpan(ctx, op.String(), tracing.WithKind(tracing.KindClient))
	if query != "" {
		span.SetTag(tracing.String(DBStatementTagKey, query))
	}

	return spanFinishFunc(span, driver.ErrSkip), context.WithValue(ctx, enclosingSpanKey{}, parent)
}

// enclosingSpan returns the span that was current before the command span
// in ctx was started. If no command span was started it returns the current
// span.
func enclosingSpan(ctx context.Context) *tracing.Span {
	if s, ok := ctx.Value(enclosingSpanKey{}).(*tracing.Span); ok {
		return s
	}

	return tracing.SpanFromContext(ctx)
}

func spanFinishFunc(span *tracing.Span, whitelistedErr ...error) func(err error) {
	return func(err error) {
		if err != nil && !errIsOneOf(err, whitelistedErr) {
			span.RecordError(err)
		} else {
			span.SetStatus(tracing.StatusOK, "")
		}

		span.End()
	}
}

func errIsOneOf(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
