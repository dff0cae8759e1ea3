package tracing

import (
	"fmt"
	"sync"
	"time"
)

// Kind describes the relationship of a span to the surrounding system.
type Kind int

const (
	KindInternal Kind = iota
	KindServer
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	default:
		return "internal"
	}
}

// Status is the final outcome of a span.
type Status int

const (
	StatusUnset Status = iota
	StatusOK
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unset"
	}
}

// Event is a timestamped note of a span.
type Event struct {
	Name string
	Time time.Time
	Tags []Tag
}

// SpanData is an immutable snapshot of a span.
type SpanData struct {
	TraceID       TraceID
	SpanID        SpanID
	ParentID      SpanID
	Name          string
	Kind          Kind
	StartTime     time.Time
	EndTime       time.Time
	Status        Status
	StatusMessage string
	Tags          []Tag
	Events        []Event
}

// Duration returns the time between start and end, 0 for snapshots of
// running spans.
func (d SpanData) Duration() time.Duration {
	if d.EndTime.IsZero() {
		return 0
	}

	return d.EndTime.Sub(d.StartTime)
}

// Tag returns the value of the tag with the given key.
func (d SpanData) Tag(key string) (Value, bool) {
	for _, t := range d.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}

	return Value{}, false
}

// Span is a timed unit of work.
// After End() was called the span is terminal, all further modifications are
// ignored.
// All methods can be called on a nil *Span, they do nothing in that case.
type Span struct {
	tracer   *Tracer
	traceID  TraceID
	id       SpanID
	parentID SpanID
	name     string
	kind     Kind
	start    time.Time

	mu        sync.Mutex
	end       time.Time
	ended     bool
	status    Status
	statusMsg string
	tags      Tags
	events    []Event
}

func (s *Span) TraceID() TraceID {
	if s == nil {
		return TraceID{}
	}

	return s.traceID
}

func (s *Span) ID() SpanID {
	if s == nil {
		return SpanID{}
	}

	return s.id
}

func (s *Span) ParentID() SpanID {
	if s == nil {
		return SpanID{}
	}

	return s.parentID
}

func (s *Span) Name() string {
	if s == nil {
		return ""
	}

	return s.name
}

func (s *Span) Kind() Kind {
	if s == nil {
		return KindInternal
	}

	return s.kind
}

func (s *Span) StartTime() time.Time {
	if s == nil {
		return time.Time{}
	}

	return s.start
}

// Tracer returns the tracer that started the span.
func (s *Span) Tracer() *Tracer {
	if s == nil {
		return nil
	}

	return s.tracer
}

// SetTag sets the tag, a previous value for the same key is overwritten.
func (s *Span) SetTag(tag Tag) {
	s.SetTags(tag)
}

// SetTags sets all passed tags, in order.
func (s *Span) SetTags(tags ...Tag) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}

	for _, t := range tags {
		s.tags.Set(t)
	}
}

// Tag returns the current value of the tag.
func (s *Span) Tag(key string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tags.Get(key)
}

// Tags returns a copy of the current tags.
func (s *Span) Tags() []Tag {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tags.List()
}

// AddEvent appends an event, timestamped with the current time.
func (s *Span) AddEvent(name string, tags ...Tag) {
	if s == nil {
		return
	}

	evTags := make([]Tag, len(tags))
	copy(evTags, tags)

	now := s.tracer.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}

	s.events = append(s.events, Event{Name: name, Time: now, Tags: evTags})
}

// Events returns a copy of the events recorded so far.
func (s *Span) Events() []Event {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]Event, len(s.events))
	copy(res, s.events)

	return res
}

// SetStatus sets the status of the span. The message is only kept for
// StatusError.
func (s *Span) SetStatus(status Status, msg string) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setStatus(status, msg)
}

func (s *Span) setStatus(status Status, msg string) {
	if s.ended {
		return
	}

	s.status = status

	if status == StatusError {
		s.statusMsg = msg
	} else {
		s.statusMsg = ""
	}
}

// Status returns the current status and status message.
func (s *Span) Status() (Status, string) {
	if s == nil {
		return StatusUnset, ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status, s.statusMsg
}

// RecordError sets the status to StatusError and records the error as
// exception tags.
func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}

	s.setStatus(StatusError, err.Error())
	s.tags.Set(String("exception.type", fmt.Sprintf("%T", err)))
	s.tags.Set(String("exception.message", err.Error()))
}

// Ended returns true after End was called.
func (s *Span) Ended() bool {
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ended
}

// End finishes the span and forwards it to the sink of the tracer.
// Calling End on an already ended span does nothing.
func (s *Span) End() {
	if s == nil {
		return
	}

	now := s.tracer.now()

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}

	if now.Before(s.start) {
		now = s.start
	}

	s.end = now
	s.ended = true
	data := s.snapshotLocked()
	s.mu.Unlock()

	s.tracer.spanEnded(data)
}

// EndWithStatus sets the status and ends the span.
func (s *Span) EndWithStatus(status Status, msg string) {
	if s == nil {
		return
	}

	s.SetStatus(status, msg)
	s.End()
}

// Snapshot returns the current state of the span.
func (s *Span) Snapshot() SpanData {
	if s == nil {
		return SpanData{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Span) snapshotLocked() SpanData {
	events := make([]Event, len(s.events))
	copy(events, s.events)

	return SpanData{
		TraceID:       s.traceID,
		SpanID:        s.id,
		ParentID:      s.parentID,
		Name:          s.name,
		Kind:          s.kind,
		StartTime:     s.start,
		EndTime:       s.end,
		Status:        s.status,
		StatusMessage: s.statusMsg,
		Tags:          s.tags.List(),
		Events:        events,
	}
}
