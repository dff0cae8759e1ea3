// Package otelexport provides a tracing.Sink that exports spans through the
// OpenTelemetry SDK, keeping their trace and span ids.
package otelexport

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/simplesurance/biztracing/tracing"
)

// ScopeName is the instrumentation scope reported for exported spans.
const ScopeName = "github.com/simplesurance/biztracing"

// Sink converts finished spans to OpenTelemetry read-only spans and passes
// them to a SpanProcessor.
type Sink struct {
	processor sdktrace.SpanProcessor
	resource  *resource.Resource
	scope     instrumentation.Scope
}

// Opt is a type for options that can be passed to NewSink.
type Opt func(*Sink)

// WithResource sets the resource that is attached to all exported spans.
func WithResource(res *resource.Resource) Opt {
	return func(s *Sink) {
		s.resource = res
	}
}

// WithScopeVersion sets the version of the instrumentation scope.
func WithScopeVersion(version string) Opt {
	return func(s *Sink) {
		s.scope.Version = version
	}
}

// NewSink returns a sink that hands spans to processor.
func NewSink(processor sdktrace.SpanProcessor, opts ...Opt) *Sink {
	s := Sink{
		processor: processor,
		resource:  resource.Default(),
		scope:     instrumentation.Scope{Name: ScopeName},
	}

	for _, opt := range opts {
		opt(&s)
	}

	return &s
}

// NewBatchSink returns a sink that exports spans asynchronously in batches.
func NewBatchSink(exporter sdktrace.SpanExporter, opts ...Opt) *Sink {
	return NewSink(sdktrace.NewBatchSpanProcessor(exporter), opts...)
}

func (s *Sink) OnStart(tracing.SpanData) {}

func (s *Sink) OnEnd(d tracing.SpanData) error {
	s.processor.OnEnd(s.stub(d).Snapshot())
	return nil
}

// ForceFlush exports all queued spans.
func (s *Sink) ForceFlush(ctx context.Context) error {
	return s.processor.ForceFlush(ctx)
}

// Shutdown flushes queued spans and stops the processor.
func (s *Sink) Shutdown(ctx context.Context) error {
	return s.processor.Shutdown(ctx)
}

func (s *Sink) stub(d tracing.SpanData) tracetest.SpanStub {
	stub := tracetest.SpanStub{
		Name:                 d.Name,
		SpanContext:          spanContext(d.TraceID, d.SpanID),
		SpanKind:             spanKind(d.Kind),
		StartTime:            d.StartTime,
		EndTime:              d.EndTime,
		Attributes:           attributes(d.Tags),
		Status:               status(d.Status, d.StatusMessage),
		Resource:             s.resource,
		InstrumentationScope: s.scope,
	}

	if d.ParentID.IsValid() {
		stub.Parent = spanContext(d.TraceID, d.ParentID)
	}

	for _, ev := range d.Events {
		stub.Events = append(stub.Events, sdktrace.Event{
			Name:       ev.Name,
			Time:       ev.Time,
			Attributes: attributes(ev.Tags),
		})
	}

	return stub
}

func spanContext(traceID tracing.TraceID, spanID tracing.SpanID) trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID(traceID),
		SpanID:     trace.SpanID(spanID),
		TraceFlags: trace.FlagsSampled,
	})
}

func spanKind(k tracing.Kind) trace.SpanKind {
	switch k {
	case tracing.KindServer:
		return trace.SpanKindServer
	case tracing.KindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

func status(st tracing.Status, msg string) sdktrace.Status {
	switch st {
	case tracing.StatusOK:
		return sdktrace.Status{Code: codes.Ok}
	case tracing.StatusError:
		return sdktrace.Status{Code: codes.Error, Description: msg}
	default:
		return sdktrace.Status{Code: codes.Unset}
	}
}

func attributes(tags []tracing.Tag) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}

	res := make([]attribute.KeyValue, 0, len(tags))
	for _, tag := range tags {
		res = append(res, Attribute(tag))
	}

	return res
}

// Attribute converts a tag to an OpenTelemetry attribute.
func Attribute(tag tracing.Tag) attribute.KeyValue {
	switch tag.Value.Type() {
	case tracing.TypeInt64:
		return attribute.Int64(tag.Key, tag.Value.AsInt64())
	case tracing.TypeFloat64:
		return attribute.Float64(tag.Key, tag.Value.AsFloat64())
	case tracing.TypeBool:
		return attribute.Bool(tag.Key, tag.Value.AsBool())
	default:
		return attribute.String(tag.Key, tag.Value.AsString())
	}
}

var _ tracing.Sink = &Sink{}
