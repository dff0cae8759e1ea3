package tracing

import (
	"errors"
	"fmt"
)

// Sink receives spans from a Tracer, it is the boundary to the trace
// collector.
// OnStart is called when a span is started, OnEnd after it was ended.
// Implementations must be safe for concurrent use.
type Sink interface {
	OnStart(SpanData)
	OnEnd(SpanData) error
}

// NopSink discards all spans.
type NopSink struct{}

func (NopSink) OnStart(SpanData) {}

func (NopSink) OnEnd(SpanData) error { return nil }

type multiSink []Sink

// MultiSink returns a sink that forwards spans to all passed sinks.
// A sink that panics does not prevent the following sinks from receiving
// the span, the panic is converted to an error.
// OnStart can not return errors, it panics with the joined errors after all
// sinks were called.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) OnStart(d SpanData) {
	var errs []error

	for _, s := range m {
		if err := callSink(func() error { s.OnStart(d); return nil }); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		panic(err)
	}
}

func (m multiSink) OnEnd(d SpanData) error {
	var errs []error

	for _, s := range m {
		if err := callSink(func() error { return s.OnEnd(d) }); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func callSink(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panicked: %w", PanicError(p))
		}
	}()

	return fn()
}

var (
	_ Sink = NopSink{}
	_ Sink = multiSink{}
)
