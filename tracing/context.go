package tracing

import "context"

type contextKey struct{}

// ContextWithSpan returns a copy of ctx in which s is the current span.
func ContextWithSpan(ctx context.Context, s *Span) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// SpanFromContext returns the current span of ctx, nil if ctx has none.
// All methods of *Span can be called on the nil result.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}

	s, _ := ctx.Value(contextKey{}).(*Span)

	return s
}
