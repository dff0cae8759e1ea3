// Package httpmw provides an HTTP middleware that records a server span for
// every request and enriches it with user, request, route and response
// data.
package httpmw

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"go.uber.org/zap"

	"github.com/simplesurance/biztracing/bizerr"
	"github.com/simplesurance/biztracing/metrics"
	"github.com/simplesurance/biztracing/tracing"
)

// DefaultReservedPrefixes are the path prefixes of requests that are not
// traced.
var DefaultReservedPrefixes = []string{"/health", "/metrics"}

// ControllerOperationTypes maps lower-case controller names to the business
// operation type of their requests. Other controllers have the type
// "general".
var ControllerOperationTypes = map[string]string{
	"operations": "financial_operation",
	"accounts":   "account_management",
	"categories": "category_management",
	"debts":      "debt_management",
	"auth":       "authentication",
}

// HandlerFunc is an HTTP handler that returns the error it failed with.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Middleware records a server span for every request.
type Middleware struct {
	tracer           *tracing.Tracer
	metrics          metrics.Recorder
	logger           *zap.Logger
	resolver         RouteResolver
	reservedPrefixes []string
	controllerOps    map[string]string
	classify         func(error) string
	errorStatus      func(error) int
}

// Opt is a type for options that can be passed to New.
type Opt func(*Middleware)

// WithMetrics sets the recorder for request metrics.
func WithMetrics(rec metrics.Recorder) Opt {
	return func(m *Middleware) {
		m.metrics = rec
	}
}

func WithLogger(logger *zap.Logger) Opt {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// WithRouteResolver sets the resolver for route tags, without one no route
// tags are recorded.
func WithRouteResolver(resolver RouteResolver) Opt {
	return func(m *Middleware) {
		m.resolver = resolver
	}
}

// WithReservedPrefixes replaces DefaultReservedPrefixes.
func WithReservedPrefixes(prefixes ...string) Opt {
	return func(m *Middleware) {
		m.reservedPrefixes = prefixes
	}
}

// WithControllerOperationTypes adds controller to operation type mappings.
func WithControllerOperationTypes(ops map[string]string) Opt {
	return func(m *Middleware) {
		for controller, op := range ops {
			m.controllerOps[strings.ToLower(controller)] = op
		}
	}
}

// WithErrorClassifier replaces bizerr.Classify as source of the
// business.error_type tag.
func WithErrorClassifier(fn func(error) string) Opt {
	return func(m *Middleware) {
		m.classify = fn
	}
}

// WithErrorStatus sets the function that determines the recorded status
// code of failed requests that did not write a response header.
// The default records 500.
func WithErrorStatus(fn func(error) int) Opt {
	return func(m *Middleware) {
		m.errorStatus = fn
	}
}

// New returns a middleware that starts request spans with tracer.
func New(tracer *tracing.Tracer, opts ...Opt) *Middleware {
	m := Middleware{
		tracer:           tracer,
		metrics:          metrics.Nop{},
		logger:           zap.NewNop(),
		reservedPrefixes: DefaultReservedPrefixes,
		controllerOps:    make(map[string]string, len(ControllerOperationTypes)),
		classify:         bizerr.Classify,
		errorStatus:      func(error) int { return http.StatusInternalServerError },
	}

	for k, v := range ControllerOperationTypes {
		m.controllerOps[k] = v
	}

	for _, opt := range opts {
		opt(&m)
	}

	return &m
}

// Handler wraps next. When next panics, the panic is recorded and
// continued with the same value.
// The signature is compatible with mux.MiddlewareFunc.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = m.serve(w, r, func(w http.ResponseWriter, r *http.Request) error {
			next.ServeHTTP(w, r)
			return nil
		})
	})
}

// WrapFunc wraps next. Errors returned by next are recorded and returned
// unchanged, panics are recorded and continued.
// When the request is already traced by a Middleware, e.g. because the
// router is wrapped with Handler, no additional span is started and errors
// are recorded on the span of the traced request.
func (m *Middleware) WrapFunc(next HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if req := tracedRequestFromContext(r.Context()); req != nil {
			err := next(w, r)
			if err != nil {
				req.fail(err)
			}

			return err
		}

		return m.serve(w, r, next)
	}
}

type tracedRequestKey struct{}

// tracedRequest is the state of a request that is served by a Middleware.
type tracedRequest struct {
	m       *Middleware
	span    *tracing.Span
	r       *http.Request
	failure error
}

func tracedRequestFromContext(ctx context.Context) *tracedRequest {
	req, _ := ctx.Value(tracedRequestKey{}).(*tracedRequest)
	return req
}

// fail records err as failure of the request. Only the first failure is
// recorded.
func (t *tracedRequest) fail(err error) {
	if t.failure != nil {
		return
	}

	t.failure = err
	t.m.recordFailure(t.span, t.r, err)
}

func (m *Middleware) isReserved(path string) bool {
	for _, prefix := range m.reservedPrefixes {
		if len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix) {
			return true
		}
	}

	return false
}

// responseState is the response as observed through the wrapped
// ResponseWriter.
type responseState struct {
	status      int
	wroteHeader bool
	written     int64
}

func (s *responseState) writeHeader(code int) {
	if s.wroteHeader || code < http.StatusOK {
		return
	}

	s.status = code
	s.wroteHeader = true
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, next HandlerFunc) error {
	if m.isReserved(r.URL.Path) {
		return next(w, r)
	}

	start := time.Now()
	method, path := r.Method, r.URL.Path

	span, ctx := m.tracer.StartSpan(r.Context(), method+" "+path, tracing.WithKind(tracing.KindServer))
	req := tracedRequest{m: m, span: span}
	r = r.WithContext(context.WithValue(ctx, tracedRequestKey{}, &req))
	req.r = r

	m.enrich(span, "request", func() {
		setRequestStartTags(span, r)
	})

	m.logger.Info("http request started",
		zap.String("method", method),
		zap.String("path", path),
		zap.Stringer("trace_id", span.TraceID()),
	)

	var (
		resp  responseState
		route RouteInfo
	)

	ww := httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				resp.writeHeader(code)
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				resp.writeHeader(http.StatusOK)
				n, err := next(b)
				resp.written += int64(n)

				return n, err
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				resp.writeHeader(http.StatusOK)
				n, err := next(src)
				resp.written += n

				return n, err
			}
		},
	})

	defer func() {
		p := recover()
		if p != nil {
			req.fail(tracing.PanicError(p))
		}

		m.complete(span, r, ww, &resp, route, req.failure, time.Since(start))

		if p != nil {
			panic(p)
		}
	}()

	m.enrich(span, "route", func() {
		route = m.setRouteTags(span, r)
	})

	if err := next(ww, r); err != nil {
		req.fail(err)
		return err
	}

	if req.failure != nil {
		// reported by a nested WrapFunc
		return nil
	}

	m.enrich(span, "response", func() {
		setResponseTags(span, ww.Header(), resp.statusCode())
	})

	return nil
}

func (s *responseState) statusCode() int {
	if !s.wroteHeader {
		return http.StatusOK
	}

	return s.status
}

// recordFailure records a failure of the handler on span.
func (m *Middleware) recordFailure(span *tracing.Span, r *http.Request, err error) {
	m.enrich(span, "error", func() {
		errType := errorTypeName(err)
		bizType := m.classify(err)

		span.SetTags(
			tracing.Bool(TagErrorOccurred, true),
			tracing.String(TagErrorType, errType),
			tracing.String(TagErrorMessage, err.Error()),
			tracing.String(TagBusinessErrorType, bizType),
		)
		span.AddEvent(EventBusinessError,
			tracing.String(TagErrorType, errType),
			tracing.String(TagBusinessErrorType, bizType),
			tracing.String(TagErrorMessage, err.Error()),
		)
		span.RecordError(err)
	})

	m.logger.Error("http request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
}

// complete runs exactly once per traced request, after the handler
// returned or panicked.
func (m *Middleware) complete(
	span *tracing.Span,
	r *http.Request,
	w http.ResponseWriter,
	resp *responseState,
	route RouteInfo,
	failure error,
	elapsed time.Duration,
) {
	status := resp.statusCode()
	if failure != nil && !resp.wroteHeader {
		status = m.errorStatus(failure)
	}

	m.enrich(span, "completion", func() {
		span.SetTags(
			tracing.Int(TagStatusCode, status),
			tracing.Int64(TagResponseSize, responseSize(w.Header(), resp.written)),
		)
	})

	metricPath := r.URL.Path
	if route.Template != "" {
		metricPath = route.Template
	}

	m.recordMetrics(span, r, metricPath, status, elapsed)

	m.logger.Info("http request completed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status_code", status),
		zap.Duration("duration", elapsed),
	)

	span.End()
}

func (m *Middleware) recordMetrics(span *tracing.Span, r *http.Request, path string, status int, elapsed time.Duration) {
	m.enrich(span, "metrics", func() {
		m.metrics.RecordHTTPRequest(r.Context(), r.Method, path, status, elapsed)
	})
}

// enrich runs fn, a panic in fn is logged and discarded.
func (m *Middleware) enrich(span *tracing.Span, stage string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Warn("enriching request span failed",
				zap.String("stage", stage),
				zap.String("span", span.Name()),
				zap.Error(tracing.PanicError(p)),
			)
		}
	}()

	fn()
}
