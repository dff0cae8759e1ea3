package tracing

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// TraceID identifies all spans of one trace.
type TraceID [16]byte

// SpanID identifies a span within a trace. The zero value is used for "no
// parent".
type SpanID [8]byte

func (id TraceID) String() string {
	return hex.EncodeToString(id[:])
}

// IsValid returns true if the id is not the zero value.
func (id TraceID) IsValid() bool {
	return id != TraceID{}
}

func (id SpanID) String() string {
	return hex.EncodeToString(id[:])
}

// IsValid returns true if the id is not the zero value.
func (id SpanID) IsValid() bool {
	return id != SpanID{}
}

func newTraceID() TraceID {
	return TraceID(uuid.New())
}

func newSpanID() SpanID {
	var id SpanID

	// the random part of a v4 uuid, byte 8 carries the variant bits which
	// guarantees a non-zero id
	u := uuid.New()
	copy(id[:], u[8:])

	return id
}
