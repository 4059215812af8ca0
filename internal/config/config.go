// Package config provides configuration loading and management for the data source orchestrator.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-datasource/internal/handler"
	"github.com/stacklok/toolhive-datasource/internal/telemetry"
	"github.com/stacklok/toolhive-datasource/internal/versions"
)

const (
	// EnvPrefix is the environment variable prefix used by the CLI
	EnvPrefix = "THV_DATASOURCE"

	// DefaultName is the orchestrator name used when none is configured
	DefaultName = "default"

	// SchemaVersion is the newest configuration format this build understands
	SchemaVersion = "1.0.0"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML, JSON or TOML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Version is the configuration format version. Documents declaring a
	// version newer than SchemaVersion are rejected
	Version string `yaml:"version,omitempty" json:"version,omitempty" toml:"version,omitempty"`

	// Name identifies this orchestrator in snapshots and telemetry.
	// Defaults to "default" if not specified
	Name string `yaml:"name,omitempty" json:"name,omitempty" toml:"name,omitempty"`

	// DataSource is the declarative data source configuration
	DataSource DataSource `yaml:"dataSource" json:"dataSource" toml:"dataSource"`

	// Transport tunes the HTTP transport
	Transport *TransportConfig `yaml:"transport,omitempty" json:"transport,omitempty" toml:"transport,omitempty"`

	// Hooks configures the default request interception hooks
	Hooks *HooksConfig `yaml:"hooks,omitempty" json:"hooks,omitempty" toml:"hooks,omitempty"`

	// Telemetry configures tracing and metrics
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty" json:"telemetry,omitempty" toml:"telemetry,omitempty"`

	// StateDir is where registry snapshots are persisted. Empty disables persistence
	StateDir string `yaml:"stateDir,omitempty" json:"stateDir,omitempty" toml:"stateDir,omitempty"`
}

// DataSource is the declarative root holding the ordered list of sources and
// an optional global data handler applied to the aggregated init result.
type DataSource struct {
	List        []SourceEntry   `yaml:"list" json:"list" toml:"list"`
	DataHandler *handler.Source `yaml:"dataHandler,omitempty" json:"dataHandler,omitempty" toml:"dataHandler,omitempty"`

	// Handler is a programmatic global handler. It takes precedence over DataHandler
	Handler handler.Func `yaml:"-" json:"-" toml:"-"`
}

// SourceEntry is one raw data source declaration
type SourceEntry struct {
	ID string `yaml:"id" json:"id" toml:"id"`

	// IsInit must be the boolean true for the source to load automatically.
	// It is kept untyped so that values such as "true" survive decoding and
	// can be rejected later.
	IsInit any `yaml:"isInit,omitempty" json:"isInit,omitempty" toml:"isInit,omitempty"`

	// Type selects the transport (fetch, jsonp)
	Type string `yaml:"type" json:"type" toml:"type"`

	// Options holds uri, method, params, headers and transport extras
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty" toml:"options,omitempty"`

	DataHandler *handler.Source `yaml:"dataHandler,omitempty" json:"dataHandler,omitempty" toml:"dataHandler,omitempty"`

	// Handler is a programmatic per-item handler. It takes precedence over DataHandler
	Handler handler.Func `yaml:"-" json:"-" toml:"-"`
}

// Find returns the entry with the given id
func (d *DataSource) Find(id string) (SourceEntry, bool) {
	if d == nil {
		return SourceEntry{}, false
	}
	for _, entry := range d.List {
		if entry.ID == id {
			return entry, true
		}
	}
	return SourceEntry{}, false
}

// IDs returns the ids of all entries in declaration order
func (d *DataSource) IDs() []string {
	if d == nil {
		return nil
	}
	ids := make([]string, 0, len(d.List))
	for _, entry := range d.List {
		ids = append(ids, entry.ID)
	}
	return ids
}

// TransportConfig defines HTTP transport settings
type TransportConfig struct {
	// Timeout is the default request timeout (e.g., "10s")
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty" toml:"timeout,omitempty"`

	// UserAgent overrides the default User-Agent header
	UserAgent string `yaml:"userAgent,omitempty" json:"userAgent,omitempty" toml:"userAgent,omitempty"`

	// RateLimit throttles outgoing requests
	RateLimit *RateLimitConfig `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty" toml:"rateLimit,omitempty"`

	// Retry retries transient failures
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// RateLimitConfig defines a token bucket
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond" toml:"requestsPerSecond"`
	Burst             int     `yaml:"burst,omitempty" json:"burst,omitempty" toml:"burst,omitempty"`
}

// RetryConfig defines retry behaviour for transient failures
type RetryConfig struct {
	MaxAttempts uint `yaml:"maxAttempts" json:"maxAttempts" toml:"maxAttempts"`
}

// HooksConfig configures the built-in beforeRequest/afterRequest hooks
type HooksConfig struct {
	// BaseURL is prepended to relative source URIs
	BaseURL string `yaml:"baseURL,omitempty" json:"baseURL,omitempty" toml:"baseURL,omitempty"`

	// Headers are added to every request unless the source sets them
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty" toml:"headers,omitempty"`

	// ErrorPath is a gjson path; a truthy value there turns a response into an error
	ErrorPath string `yaml:"errorPath,omitempty" json:"errorPath,omitempty" toml:"errorPath,omitempty"`
}

// GetTimeout parses the configured timeout, returning 0 when unset
func (t *TransportConfig) GetTimeout() (time.Duration, error) {
	if t == nil || t.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(t.Timeout)
}

// LoadConfig loads and parses configuration from a file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data, formatFromPath(loaderCfg.path))
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Format is a supported configuration file format
type Format string

const (
	// FormatYAML is YAML (the default)
	FormatYAML Format = "yaml"
	// FormatJSON is JSON
	FormatJSON Format = "json"
	// FormatTOML is TOML
	FormatTOML Format = "toml"
)

func formatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// Parse decodes and validates configuration data in the given format
func Parse(data []byte, format Format) (*Config, error) {
	var config Config

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetName returns the orchestrator name, using "default" if not specified
func (c *Config) GetName() string {
	if c.Name == "" {
		return DefaultName
	}
	return c.Name
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Version != "" && versions.IsNewerVersion(c.Version, SchemaVersion) {
		return fmt.Errorf("config version %s is newer than the supported version %s", c.Version, SchemaVersion)
	}

	if err := c.DataSource.Validate(); err != nil {
		return err
	}

	if err := c.Transport.validate(); err != nil {
		return err
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

// Validate checks that every entry has a unique, non-empty id
func (d *DataSource) Validate() error {
	if d == nil {
		return nil
	}

	ids := make(map[string]bool, len(d.List))
	for i, entry := range d.List {
		if entry.ID == "" {
			return fmt.Errorf("dataSource.list[%d]: id is required", i)
		}
		if ids[entry.ID] {
			return fmt.Errorf("dataSource.list[%d]: duplicate id '%s'", i, entry.ID)
		}
		ids[entry.ID] = true
	}

	return nil
}

func (t *TransportConfig) validate() error {
	if t == nil {
		return nil
	}

	if _, err := t.GetTimeout(); err != nil {
		return fmt.Errorf("transport.timeout must be a valid duration (e.g., '10s'): %w", err)
	}

	if t.RateLimit != nil {
		if t.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("transport.rateLimit.requestsPerSecond must be positive")
		}
		if t.RateLimit.Burst < 0 {
			return fmt.Errorf("transport.rateLimit.burst cannot be negative")
		}
	}

	if t.Retry != nil && t.Retry.MaxAttempts == 0 {
		return fmt.Errorf("transport.retry.maxAttempts must be at least 1")
	}

	return nil
}
