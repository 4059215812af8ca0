// Package telemetry wires OpenTelemetry into the data source orchestrator:
// OTLP tracing, metrics pushed over OTLP or scraped by Prometheus, source
// load instruments and HTTP instrumentation for the API.
package telemetry

import (
	"errors"
	"fmt"
)

const (
	// DefaultServiceName is reported when the configuration does not name the service
	DefaultServiceName = "thv-datasource"

	// DefaultServiceVersion is reported when no version is known
	DefaultServiceVersion = "unknown"

	// DefaultEndpoint is the OTLP/HTTP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the trace ratio used when tracing.sampling is unset
	DefaultSampling = 0.05

	// ExporterOTLP pushes metrics to the OTLP endpoint
	ExporterOTLP = "otlp"

	// ExporterPrometheus exposes metrics for scraping on /metrics
	ExporterPrometheus = "prometheus"
)

// Config is the telemetry section of the configuration file
type Config struct {
	// Enabled is the master switch. Nothing is exported while it is false
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	ServiceName    string `yaml:"serviceName,omitempty" json:"serviceName,omitempty" toml:"serviceName,omitempty"`
	ServiceVersion string `yaml:"serviceVersion,omitempty" json:"serviceVersion,omitempty" toml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector as host:port; /v1/traces and /v1/metrics are appended
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" toml:"endpoint,omitempty"`

	// Insecure sends OTLP over plain HTTP
	Insecure bool `yaml:"insecure,omitempty" json:"insecure,omitempty" toml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty" toml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// TracingConfig enables span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// Sampling is the ratio of traces kept, in [0, 1]. Zero means DefaultSampling
	Sampling float64 `yaml:"sampling,omitempty" json:"sampling,omitempty" toml:"sampling,omitempty"`
}

// MetricsConfig enables metric export
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// Exporter is "otlp" (default) or "prometheus"
	Exporter string `yaml:"exporter,omitempty" json:"exporter,omitempty" toml:"exporter,omitempty"`
}

// settings is a Config with every default applied
type settings struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	insecure       bool

	tracing  bool
	sampling float64

	metrics  bool
	exporter string
}

func (c *Config) settings() settings {
	s := settings{
		serviceName:    DefaultServiceName,
		serviceVersion: DefaultServiceVersion,
		endpoint:       DefaultEndpoint,
		sampling:       DefaultSampling,
		exporter:       ExporterOTLP,
	}
	if c == nil || !c.Enabled {
		return s
	}

	if c.ServiceName != "" {
		s.serviceName = c.ServiceName
	}
	if c.ServiceVersion != "" {
		s.serviceVersion = c.ServiceVersion
	}
	if c.Endpoint != "" {
		s.endpoint = c.Endpoint
	}
	s.insecure = c.Insecure

	if c.Tracing != nil && c.Tracing.Enabled {
		s.tracing = true
		if c.Tracing.Sampling != 0 {
			s.sampling = c.Tracing.Sampling
		}
	}
	if c.Metrics != nil && c.Metrics.Enabled {
		s.metrics = true
		if c.Metrics.Exporter != "" {
			s.exporter = c.Metrics.Exporter
		}
	}
	return s
}

// Validate reports every problem of an enabled telemetry section. A nil or
// disabled section is always valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if t := c.Tracing; t != nil && t.Enabled && (t.Sampling < 0 || t.Sampling > 1) {
		errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %g", t.Sampling))
	}
	if m := c.Metrics; m != nil && m.Enabled {
		switch m.Exporter {
		case "", ExporterOTLP, ExporterPrometheus:
		default:
			errs = append(errs, fmt.Errorf("metrics: exporter must be %q or %q, got %q",
				ExporterOTLP, ExporterPrometheus, m.Exporter))
		}
	}
	return errors.Join(errs...)
}
