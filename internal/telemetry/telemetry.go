// Package telemetry initializes the OpenTelemetry span and metric exporters.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/simplesurance/biztracing/tracing/otelexport"
)

// Config holds the exporter configuration.
type Config struct {
	// Endpoint is the host:port of the OTLP/HTTP collector. Export is
	// disabled when it is empty.
	Endpoint       string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	MetricInterval time.Duration
}

// Shutdown flushes and stops the exporters.
type Shutdown func(ctx context.Context) error

// Telemetry are the initialized exporters.
type Telemetry struct {
	// SpanSink exports finished spans, it is nil when export is disabled.
	SpanSink      *otelexport.Sink
	MeterProvider metric.MeterProvider
	Shutdown      Shutdown
}

// Enabled returns true if spans and metrics are exported.
func (t *Telemetry) Enabled() bool {
	return t.SpanSink != nil
}

// Init creates the OTLP/HTTP span and metric exporters and registers the
// meter provider as global provider.
// If cfg.Endpoint is empty, a no-op meter provider and no span sink are
// returned.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Endpoint == "" {
		return &Telemetry{
			MeterProvider: noop.NewMeterProvider(),
			Shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	sink := otelexport.NewBatchSink(traceExp,
		otelexport.WithResource(res),
		otelexport.WithScopeVersion(cfg.ServiceVersion),
	)

	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = sink.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(interval),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		if err := sink.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return &Telemetry{
		SpanSink:      sink,
		MeterProvider: mp,
		Shutdown:      shutdown,
	}, nil
}
