package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace is the prefix of the metric names.
const DefaultNamespace = "money_api"

var labelNames = []string{"method", "path", "status_code"}

// Prometheus records request metrics as Prometheus metrics:
// <namespace>_requests_total, <namespace>_errors_total and
// <namespace>_request_duration_seconds.
type Prometheus struct {
	RequestsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewPrometheus creates the metrics and registers them at reg.
// If namespace is empty, DefaultNamespace is used.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	factory := promauto.With(reg)

	return &Prometheus{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			labelNames,
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of HTTP requests that failed with a status code >= 400",
			},
			labelNames,
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			labelNames,
		),
	}
}

func (p *Prometheus) RecordHTTPRequest(_ context.Context, method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)

	p.RequestsTotal.WithLabelValues(method, path, status).Inc()
	p.RequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())

	if IsError(statusCode) {
		p.ErrorsTotal.WithLabelValues(method, path, status).Inc()
	}
}

var _ Recorder = &Prometheus{}
