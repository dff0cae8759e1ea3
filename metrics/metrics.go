// Package metrics records HTTP request metrics.
package metrics

import (
	"context"
	"time"
)

// Recorder records the metrics of a handled HTTP request.
// Implementations must be safe for concurrent use.
type Recorder interface {
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration)
}

// IsError returns true for status codes that are counted as errors.
func IsError(statusCode int) bool {
	return statusCode >= 400
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

// Multi forwards metrics to all recorders.
type Multi []Recorder

func (m Multi) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	for _, r := range m {
		r.RecordHTTPRequest(ctx, method, path, statusCode, duration)
	}
}

var (
	_ Recorder = Nop{}
	_ Recorder = Multi{}
)
