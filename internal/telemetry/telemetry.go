package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry owns the tracer and meter providers and their shutdown
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	gatherer       prometheus.Gatherer

	shutdowns    []shutdownFunc
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures New
type Option func(*options)

type options struct {
	config   *Config
	registry *prometheus.Registry
}

// WithTelemetryConfig sets the telemetry configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithPrometheusRegistry sets the registry scraped on /metrics. A private
// registry is created when the Prometheus exporter is selected without one.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// New builds the providers described by the configuration. A nil or disabled
// configuration yields no-op providers. Call Shutdown before exiting.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	s := o.config.settings()
	t := &Telemetry{}

	if !s.tracing && !s.metrics {
		slog.Debug("Telemetry disabled")
		t.tracerProvider = tracenoop.NewTracerProvider()
		t.meterProvider = metricnoop.NewMeterProvider()
		return t, nil
	}

	slog.Info("Initializing telemetry", "service_name", s.serviceName, "service_version", s.serviceVersion)
	res, err := newResource(ctx, s)
	if err != nil {
		return nil, err
	}

	tp, stopTracer, err := newTracerProvider(ctx, s, res)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}
	t.tracerProvider = tp
	t.addShutdown(stopTracer)

	reg := o.registry
	if s.metrics && s.exporter == ExporterPrometheus {
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		t.gatherer = reg
	}

	mp, stopMeter, err := newMeterProvider(ctx, s, res, reg)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}
	t.meterProvider = mp
	t.addShutdown(stopMeter)

	return t, nil
}

func (t *Telemetry) addShutdown(fn shutdownFunc) {
	if fn != nil {
		t.shutdowns = append(t.shutdowns, fn)
	}
}

// TracerProvider returns the tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// MetricsHandler returns the Prometheus scrape handler, or nil when metrics
// are not exported through Prometheus.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.gatherer == nil {
		return nil
	}
	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers, the meter provider first. Only
// the first call does any work; later calls return its result.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.shutdownOnce.Do(func() {
		var errs []error
		for i := len(t.shutdowns) - 1; i >= 0; i-- {
			if err := t.shutdowns[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		t.shutdownErr = errors.Join(errs...)
		if t.shutdownErr == nil && len(t.shutdowns) > 0 {
			slog.Info("Telemetry shutdown complete")
		}
	})
	return t.shutdownErr
}
