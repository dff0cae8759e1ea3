package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTel records request metrics with OpenTelemetry instruments.
type OTel struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewOTel creates the instruments with meter. The instrument names are the
// same as the ones of Prometheus, with "." as separator.
func NewOTel(meter metric.Meter, namespace string) (*OTel, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	requests, err := meter.Int64Counter(namespace+".requests",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create request counter: %w", err)
	}

	errCounter, err := meter.Int64Counter(namespace+".errors",
		metric.WithDescription("Total number of HTTP requests that failed with a status code >= 400"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create error counter: %w", err)
	}

	duration, err := meter.Float64Histogram(namespace+".request_duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create duration histogram: %w", err)
	}

	return &OTel{
		requests: requests,
		errors:   errCounter,
		duration: duration,
	}, nil
}

func (o *OTel) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	)

	o.requests.Add(ctx, 1, attrs)
	o.duration.Record(ctx, duration.Seconds(), attrs)

	if IsError(statusCode) {
		o.errors.Add(ctx, 1, attrs)
	}
}

var _ Recorder = &OTel{}
