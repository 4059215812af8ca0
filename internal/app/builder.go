package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-datasource/internal/api"
	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/datasource"
	"github.com/stacklok/toolhive-datasource/internal/hooks"
	"github.com/stacklok/toolhive-datasource/internal/httpclient"
	"github.com/stacklok/toolhive-datasource/internal/status"
	"github.com/stacklok/toolhive-datasource/internal/telemetry"
	"github.com/stacklok/toolhive-datasource/internal/transport"
	"github.com/stacklok/toolhive-datasource/internal/watch"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	// defaultRetryInterval is the first backoff interval when retries are enabled
	defaultRetryInterval = 500 * time.Millisecond

	// tracerName is the tracer used for batch and load spans
	tracerName = "github.com/stacklok/toolhive-datasource/datasource"
)

// DataSourceAppOptions is a function that configures the data source app builder
type DataSourceAppOptions func(*dataSourceAppConfig) error

// dataSourceAppConfig collects the app dependencies. Every component has a
// production default; the overrides exist mostly for tests.
type dataSourceAppConfig struct {
	config *config.Config
	host   any

	// Optional component overrides
	dispatcher  transport.Dispatcher
	persistence status.SnapshotPersistence
	watcher     *watch.Watcher

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...DataSourceAppOptions) (*dataSourceAppConfig, error) {
	cfg := &dataSourceAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return cfg, nil
}

// NewDataSourceApp builds the orchestrator and the HTTP server serving it
func NewDataSourceApp(ctx context.Context, opts ...DataSourceAppOptions) (*DataSourceApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	orch, err := buildOrchestrator(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}

	if cfg.persistence == nil && cfg.config.StateDir != "" {
		cfg.persistence = status.NewFileSnapshotPersistence(cfg.config.StateDir)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, orch)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	return &DataSourceApp{
		config: cfg.config,
		components: &AppComponents{
			Orchestrator: orch,
			Persistence:  cfg.persistence,
			Watcher:      cfg.watcher,
		},
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// NewOrchestrator builds an orchestrator for cfg without an HTTP server.
// It is what the one-shot CLI commands use.
func NewOrchestrator(opts ...DataSourceAppOptions) (*datasource.Orchestrator, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildOrchestrator(cfg)
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithHost sets the value passed to every data handler
func WithHost(host any) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		cfg.host = host
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithDispatcher allows injecting a custom dispatcher (for testing)
func WithDispatcher(d transport.Dispatcher) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		cfg.dispatcher = d
		return nil
	}
}

// WithSnapshotPersistence overrides where registry snapshots are written
func WithSnapshotPersistence(p status.SnapshotPersistence) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		cfg.persistence = p
		return nil
	}
}

// WithWatcher reloads the configuration into the orchestrator on change
func WithWatcher(w *watch.Watcher) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		cfg.watcher = w
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for load and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves Prometheus metrics on /metrics
func WithMetricsHandler(h http.Handler) DataSourceAppOptions {
	return func(cfg *dataSourceAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildOrchestrator wires transport, hooks and telemetry into an orchestrator
func buildOrchestrator(b *dataSourceAppConfig) (*datasource.Orchestrator, error) {
	slog.Info("Initializing orchestrator", "name", b.config.GetName(), "sources", len(b.config.DataSource.List))

	var opts []datasource.Option

	dispatcher := b.dispatcher
	if dispatcher == nil {
		client, err := buildHTTPClient(b.config.Transport)
		if err != nil {
			return nil, err
		}
		dispatcher = transport.NewDispatcher(client)
	}
	opts = append(opts, datasource.WithDispatcher(dispatcher))

	if b.meterProvider != nil {
		metrics, err := telemetry.NewSourceMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create source metrics: %w", err)
		}
		if metrics != nil {
			opts = append(opts, datasource.WithMetrics(metrics))
			slog.Info("Source metrics enabled")
		}
	}

	if b.tracerProvider != nil {
		opts = append(opts, datasource.WithTracer(b.tracerProvider.Tracer(tracerName)))
	}

	return datasource.New(b.host, &b.config.DataSource, hooks.New(b.config.Hooks), nil, opts...), nil
}

// buildHTTPClient creates the HTTP client described by the transport section
func buildHTTPClient(tc *config.TransportConfig) (httpclient.Client, error) {
	if tc == nil {
		return httpclient.NewDefaultClient(0), nil
	}

	timeout, err := tc.GetTimeout()
	if err != nil {
		return nil, err
	}

	var opts []httpclient.Option
	if tc.UserAgent != "" {
		opts = append(opts, httpclient.WithUserAgent(tc.UserAgent))
	}
	if tc.RateLimit != nil {
		opts = append(opts, httpclient.WithRateLimit(tc.RateLimit.RequestsPerSecond, tc.RateLimit.Burst))
	}
	if tc.Retry != nil {
		opts = append(opts, httpclient.WithRetry(tc.Retry.MaxAttempts, defaultRetryInterval))
	}

	return httpclient.NewDefaultClient(timeout, opts...), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *dataSourceAppConfig,
	orch *datasource.Orchestrator,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Instrumentation goes first to observe every request
	if b.tracerProvider != nil || b.meterProvider != nil {
		instrument, err := telemetry.HTTPMiddleware(b.tracerProvider, b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP instrumentation: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{instrument}, b.middlewares...)
		slog.Info("HTTP instrumentation enabled")
	}

	router := api.NewServer(orch,
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
