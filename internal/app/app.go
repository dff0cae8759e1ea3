// Package app wires the biztraced HTTP service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/simplesurance/biztracing"
	"github.com/simplesurance/biztracing/bizctx"
	"github.com/simplesurance/biztracing/business"
	"github.com/simplesurance/biztracing/httpmw"
	"github.com/simplesurance/biztracing/internal/config"
	"github.com/simplesurance/biztracing/internal/telemetry"
	"github.com/simplesurance/biztracing/metrics"
	"github.com/simplesurance/biztracing/pgxtrace"
	"github.com/simplesurance/biztracing/principal"
	"github.com/simplesurance/biztracing/tracing"
	"github.com/simplesurance/biztracing/tracing/otelexport"
	"github.com/simplesurance/biztracing/tracing/zapsink"
)

// App is the biztraced HTTP service.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	store     Store
	handler   http.Handler
}

type options struct {
	sinks    []tracing.Sink
	registry *prometheus.Registry
}

// Opt is a type for options that can be passed to New.
type Opt func(*options)

// WithSpanSink adds a sink that receives all finished spans.
func WithSpanSink(sink tracing.Sink) Opt {
	return func(o *options) {
		o.sinks = append(o.sinks, sink)
	}
}

// WithRegistry registers the metrics at reg instead of a new registry.
func WithRegistry(reg *prometheus.Registry) Opt {
	return func(o *options) {
		o.registry = reg
	}
}

// New creates the service, it opens the database and initializes the
// exporters.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Opt) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	mappings := &config.Mappings{}
	if cfg.MappingsFile != "" {
		var err error

		mappings, err = config.LoadMappings(cfg.MappingsFile)
		if err != nil {
			return nil, err
		}
	}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return nil, err
	}

	sinks := o.sinks
	if tel.Enabled() {
		sinks = append(sinks, tel.SpanSink)
	}
	if cfg.Telemetry.LogSpans {
		sinks = append(sinks, zapsink.New(logger, zapsink.WithTags()))
	}

	tracer := tracing.NewTracer(tracing.MultiSink(sinks...), tracing.WithLogger(logger.Named("tracing")))

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	otelMetrics, err := metrics.NewOTel(tel.MeterProvider.Meter(otelexport.ScopeName), cfg.Telemetry.MetricsNamespace)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	recorder := metrics.Multi{
		metrics.NewPrometheus(reg, cfg.Telemetry.MetricsNamespace),
		otelMetrics,
	}

	store, err := openStore(ctx, cfg, logger, mappings)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	h := handlers{
		store: store,
		biz: business.New(tracer,
			business.WithServiceName(cfg.Telemetry.ServiceName),
			business.WithServiceVersion(cfg.Telemetry.ServiceVersion),
		),
		logger: logger,
	}

	router := mux.NewRouter()
	mw := httpmw.New(tracer,
		httpmw.WithLogger(logger.Named("http")),
		httpmw.WithMetrics(recorder),
		httpmw.WithRouteResolver(httpmw.NewMuxResolver(router)),
		httpmw.WithControllerOperationTypes(mappings.Controllers),
		httpmw.WithErrorStatus(errorStatus),
	)

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.Handle("/categories", h.handle(mw, h.listCategories)).
		Methods(http.MethodGet).
		Name("categories.list")
	router.Handle("/operations/{id}", h.handle(mw, h.getOperation)).
		Methods(http.MethodGet).
		Name("operations.get")
	router.Handle("/operations/{id}", h.handle(mw, h.deleteOperation)).
		Methods(http.MethodDelete).
		Name("operations.delete")

	// unmatched requests are traced too, route tags are resolved via the
	// router
	handler := mw.Handler(router)
	if cfg.Auth.Secret != "" {
		var authOpts []principal.Opt

		authOpts = append(authOpts, principal.WithLogger(logger.Named("auth")))
		if cfg.Auth.Issuer != "" {
			authOpts = append(authOpts, principal.WithIssuer(cfg.Auth.Issuer))
		}
		if cfg.Auth.Audience != "" {
			authOpts = append(authOpts, principal.WithAudience(cfg.Auth.Audience))
		}

		handler = principal.NewAuthenticator([]byte(cfg.Auth.Secret), authOpts...).Middleware(handler)
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		store:     store,
		handler:   handler,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, mappings *config.Mappings) (Store, error) {
	dbOpts := []biztracing.Opt{
		biztracing.WithLogger(logger.Named("db")),
		biztracing.WithExtractor(bizctx.NewExtractor(bizctx.WithTableEntities(mappings.Tables))),
	}

	if cfg.Telemetry.CommandSpans {
		dbOpts = append(dbOpts, biztracing.WithCommandSpans())
	}

	switch cfg.DB.Driver {
	case config.DriverPostgres:
		var pgOpts []pgxtrace.Opt
		if cfg.Telemetry.CommandSpans {
			pgOpts = append(pgOpts, pgxtrace.WithCommandSpans())
		}

		return newPostgresStore(ctx, cfg.DB.DSN, pgxtrace.New(biztracing.NewEnricher(dbOpts...), pgOpts...))

	case config.DriverSQLite:
		return newSQLiteStore(ctx, cfg.DB.DSN, dbOpts...)

	default:
		return nil, fmt.Errorf("app: unsupported database driver %q", cfg.DB.Driver)
	}
}

// Handler returns the root HTTP handler of the service.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves HTTP requests until ctx is canceled, then shuts the server
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: a.handler,
	}

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.logger.Info("shutting down http server")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: shutdown http server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: http server: %w", err)
	}

	return nil
}

// Close closes the database and flushes the exporters.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(
		a.store.Close(),
		a.telemetry.Shutdown(ctx),
	)
}
