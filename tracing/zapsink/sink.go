// Package zapsink provides a tracing.Sink that writes a log entry for every
// completed span.
package zapsink

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/biztracing/tracing"
)

// Sink logs completed spans. Spans with error status are logged at warn
// level, all others at the configured level.
type Sink struct {
	logger   *zap.Logger
	level    zapcore.Level
	withTags bool
}

// Opt is a type for options that can be passed to New.
type Opt func(*Sink)

// WithLevel sets the level for spans that did not fail, the default is debug.
func WithLevel(lvl zapcore.Level) Opt {
	return func(s *Sink) {
		s.level = lvl
	}
}

// WithTags includes all span tags as log fields.
func WithTags() Opt {
	return func(s *Sink) {
		s.withTags = true
	}
}

func New(logger *zap.Logger, opts ...Opt) *Sink {
	s := Sink{
		logger: logger.Named("span"),
		level:  zapcore.DebugLevel,
	}

	for _, opt := range opts {
		opt(&s)
	}

	return &s
}

func (s *Sink) OnStart(tracing.SpanData) {}

func (s *Sink) OnEnd(d tracing.SpanData) error {
	lvl := s.level
	if d.Status == tracing.StatusError {
		lvl = zapcore.WarnLevel
	}

	ce := s.logger.Check(lvl, "span completed")
	if ce == nil {
		return nil
	}

	fields := []zap.Field{
		zap.String("span", d.Name),
		zap.Stringer("trace_id", d.TraceID),
		zap.Stringer("span_id", d.SpanID),
		zap.Stringer("kind", d.Kind),
		zap.Stringer("status", d.Status),
		zap.Duration("duration", d.Duration()),
		zap.Int("events", len(d.Events)),
	}

	if d.ParentID.IsValid() {
		fields = append(fields, zap.Stringer("parent_id", d.ParentID))
	}

	if d.StatusMessage != "" {
		fields = append(fields, zap.String("status_message", d.StatusMessage))
	}

	if s.withTags {
		for _, tag := range d.Tags {
			fields = append(fields, field(tag))
		}
	}

	ce.Write(fields...)

	return nil
}

func field(tag tracing.Tag) zap.Field {
	switch tag.Value.Type() {
	case tracing.TypeInt64:
		return zap.Int64(tag.Key, tag.Value.AsInt64())
	case tracing.TypeFloat64:
		return zap.Float64(tag.Key, tag.Value.AsFloat64())
	case tracing.TypeBool:
		return zap.Bool(tag.Key, tag.Value.AsBool())
	default:
		return zap.String(tag.Key, tag.Value.AsString())
	}
}

var _ tracing.Sink = &Sink{}
