// Package opentracing provides a tracing.Sink that mirrors spans into an
// opentracing-go Tracer.
package opentracing

import (
	"errors"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otlog "github.com/opentracing/opentracing-go/log"

	"github.com/simplesurance/biztracing/tracing"
)

// DefaultTracingTags are the tags that are added by default to all spans.
var DefaultTracingTags = opentracing.Tags{
	string(ext.Component): "biztracing",
}

// Sink starts an opentracing span when a tracing.Span starts and finishes it
// with the final tags and events when the tracing.Span ends.
// Parent/child relations are preserved for parents that were started
// through the same Sink.
type Sink struct {
	defaultTags opentracing.Tags
	getTracerFn func() opentracing.Tracer

	spans sync.Map // tracing.SpanID -> opentracing.Span
}

// Opt is a type for options that can be passed to NewSink.
type Opt func(*Sink)

// WithTracingTags is an option for NewSink() to set the tags that are
// applied to all spans.
func WithTracingTags(tags opentracing.Tags) Opt {
	return func(s *Sink) {
		s.defaultTags = tags
	}
}

// WithTracer is an option for NewSink() to use a custom function to
// retrieve the opentracing Tracer to use.
func WithTracer(fn func() opentracing.Tracer) Opt {
	return func(s *Sink) {
		s.getTracerFn = fn
	}
}

// NewSink returns a sink that records spans via opentracing-go.
// When no options are specified, opentracing.GlobalTracer is used as
// Tracer and DefaultTracingTags are used as tags.
func NewSink(opts ...Opt) *Sink {
	s := Sink{
		defaultTags: DefaultTracingTags,
		getTracerFn: opentracing.GlobalTracer,
	}

	for _, opt := range opts {
		opt(&s)
	}

	return &s
}

func (s *Sink) OnStart(d tracing.SpanData) {
	s.start(d)
}

func (s *Sink) start(d tracing.SpanData) opentracing.Span {
	opts := []opentracing.StartSpanOption{
		opentracing.StartTime(d.StartTime),
		s.defaultTags,
	}

	switch d.Kind {
	case tracing.KindServer:
		opts = append(opts, ext.SpanKindRPCServer)
	case tracing.KindClient:
		opts = append(opts, ext.SpanKindRPCClient)
	}

	if d.ParentID.IsValid() {
		if parent, ok := s.spans.Load(d.ParentID); ok {
			opts = append(opts, opentracing.ChildOf(parent.(opentracing.Span).Context()))
		}
	}

	otSpan := s.getTracerFn().StartSpan(d.Name, opts...)
	s.spans.Store(d.SpanID, otSpan)

	return otSpan
}

func (s *Sink) OnEnd(d tracing.SpanData) error {
	var otSpan opentracing.Span

	if v, loaded := s.spans.LoadAndDelete(d.SpanID); loaded {
		otSpan = v.(opentracing.Span)
	} else {
		otSpan = s.start(d)
		s.spans.Delete(d.SpanID)
	}

	for _, tag := range d.Tags {
		otSpan.SetTag(tag.Key, tag.Value.Interface())
	}

	if d.Status == tracing.StatusError {
		ext.LogError(otSpan, errors.New(d.StatusMessage))
	}

	records := make([]opentracing.LogRecord, 0, len(d.Events))
	for _, ev := range d.Events {
		fields := make([]otlog.Field, 0, len(ev.Tags)+1)
		fields = append(fields, otlog.String("event", ev.Name))

		for _, tag := range ev.Tags {
			fields = append(fields, logField(tag))
		}

		records = append(records, opentracing.LogRecord{Timestamp: ev.Time, Fields: fields})
	}

	otSpan.FinishWithOptions(opentracing.FinishOptions{
		FinishTime: d.EndTime,
		LogRecords: records,
	})

	return nil
}

func logField(tag tracing.Tag) otlog.Field {
	switch tag.Value.Type() {
	case tracing.TypeInt64:
		return otlog.Int64(tag.Key, tag.Value.AsInt64())
	case tracing.TypeFloat64:
		return otlog.Float64(tag.Key, tag.Value.AsFloat64())
	case tracing.TypeBool:
		return otlog.Bool(tag.Key, tag.Value.AsBool())
	default:
		return otlog.String(tag.Key, tag.Value.AsString())
	}
}

var _ tracing.Sink = &Sink{}
