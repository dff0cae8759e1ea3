// Package tracing provides the span model used to record business traces.
//
// A Tracer starts spans and forwards them to a Sink when they end. The
// current span of a unit of work is carried in its context.Context, see
// ContextWithSpan and SpanFromContext.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Tracer creates spans and hands finished spans to its Sink.
type Tracer struct {
	sink   Sink
	logger *zap.Logger
	clock  func() time.Time
}

// Opt is a type for options that can be passed to NewTracer.
type Opt func(*Tracer)

// WithLogger sets the logger that is used to report sink failures.
func WithLogger(logger *zap.Logger) Opt {
	return func(t *Tracer) {
		t.logger = logger
	}
}

// WithClock replaces time.Now as time source.
func WithClock(fn func() time.Time) Opt {
	return func(t *Tracer) {
		t.clock = fn
	}
}

// NewTracer returns a tracer that forwards spans to sink.
// When sink is nil, spans are discarded.
func NewTracer(sink Sink, opts ...Opt) *Tracer {
	if sink == nil {
		sink = NopSink{}
	}

	t := Tracer{
		sink:   sink,
		logger: zap.NewNop(),
		clock:  time.Now,
	}

	for _, opt := range opts {
		opt(&t)
	}

	return &t
}

type startConfig struct {
	kind    Kind
	parent  *Span
	newRoot bool
	tags    []Tag
}

// StartOpt is a type for options that can be passed to StartSpan.
type StartOpt func(*startConfig)

// WithKind sets the kind of the span, the default is KindInternal.
func WithKind(kind Kind) StartOpt {
	return func(c *startConfig) {
		c.kind = kind
	}
}

// WithParent uses parent as parent span instead of the current span of the
// context.
func WithParent(parent *Span) StartOpt {
	return func(c *startConfig) {
		c.parent = parent
	}
}

// WithNewRoot starts a new trace, the current span of the context is ignored.
func WithNewRoot() StartOpt {
	return func(c *startConfig) {
		c.newRoot = true
	}
}

// WithTags sets initial tags of the span.
func WithTags(tags ...Tag) StartOpt {
	return func(c *startConfig) {
		c.tags = append(c.tags, tags...)
	}
}

// StartSpan starts a child span of the current span in ctx, or a new root
// span if ctx has no current span. It returns the span and a new context
// that contains it as current span.
// Spans of a nil Tracer are recorded but never forwarded to a sink.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...StartOpt) (*Span, context.Context) {
	var cfg startConfig

	for _, opt := range opts {
		opt(&cfg)
	}

	parent := cfg.parent
	if parent == nil && !cfg.newRoot {
		parent = SpanFromContext(ctx)
	}

	span := Span{
		tracer: t,
		id:     newSpanID(),
		name:   name,
		kind:   cfg.kind,
		start:  t.now(),
	}

	if parent != nil && !cfg.newRoot {
		span.traceID = parent.traceID
		span.parentID = parent.id

		if span.start.Before(parent.start) {
			span.start = parent.start
		}
	} else {
		span.traceID = newTraceID()
	}

	for _, tag := range cfg.tags {
		span.tags.Set(tag)
	}

	t.spanStarted(span.Snapshot())

	return &span, ContextWithSpan(ctx, &span)
}

// Do runs fn in a new span. The span ends when fn returns or panics, its
// status is StatusError if fn returned an error or panicked, StatusOK
// otherwise. Errors and panics are passed on unchanged.
func (t *Tracer) Do(ctx context.Context, name string, fn func(context.Context) error, opts ...StartOpt) (err error) {
	span, ctx := t.StartSpan(ctx, name, opts...)

	defer func() {
		if p := recover(); p != nil {
			span.RecordError(PanicError(p))
			span.End()
			panic(p)
		}

		if err != nil {
			span.RecordError(err)
		} else {
			span.SetStatus(StatusOK, "")
		}

		span.End()
	}()

	return fn(ctx)
}

func (t *Tracer) now() time.Time {
	if t == nil {
		return time.Now()
	}

	return t.clock()
}

func (t *Tracer) spanStarted(d SpanData) {
	if t == nil {
		return
	}

	defer t.recoverSink("start", d)

	t.sink.OnStart(d)
}

func (t *Tracer) spanEnded(d SpanData) {
	if t == nil {
		return
	}

	defer t.recoverSink("end", d)

	if err := t.sink.OnEnd(d); err != nil {
		t.logger.Warn("tracing: forwarding span to sink failed",
			zap.String("span", d.Name),
			zap.Stringer("span_id", d.SpanID),
			zap.Error(err),
		)
	}
}

func (t *Tracer) recoverSink(stage string, d SpanData) {
	if p := recover(); p != nil {
		t.logger.Warn("tracing: sink panicked",
			zap.String("stage", stage),
			zap.String("span", d.Name),
			zap.Stringer("span_id", d.SpanID),
			zap.Any("panic", p),
		)
	}
}

// PanicError converts a recovered panic value to an error.
func PanicError(p any) error {
	if err, ok := p.(error); ok {
		return err
	}

	return fmt.Errorf("panic: %v", p)
}
