// Package tracingtest provides an in-memory tracing.Sink for tests.
package tracingtest

import (
	"sync"

	"github.com/simplesurance/biztracing/tracing"
)

// Recorder stores all started and finished spans.
type Recorder struct {
	mu       sync.Mutex
	started  []tracing.SpanData
	finished []tracing.SpanData
	err      error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes OnEnd return err, the span is recorded anyway.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
}

func (r *Recorder) OnStart(d tracing.SpanData) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started = append(r.started, d)
}

func (r *Recorder) OnEnd(d tracing.SpanData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finished = append(r.finished, d)

	return r.err
}

// StartedSpans returns the spans that were started, in start order.
func (r *Recorder) StartedSpans() []tracing.SpanData {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]tracing.SpanData(nil), r.started...)
}

// FinishedSpans returns the spans that were ended, in end order.
func (r *Recorder) FinishedSpans() []tracing.SpanData {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]tracing.SpanData(nil), r.finished...)
}

// FindFinished returns the first finished span called name.
func (r *Recorder) FindFinished(name string) (tracing.SpanData, bool) {
	for _, d := range r.FinishedSpans() {
		if d.Name == name {
			return d, true
		}
	}

	return tracing.SpanData{}, false
}

// Reset removes all recorded spans.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started = nil
	r.finished = nil
}

var _ tracing.Sink = &Recorder{}
