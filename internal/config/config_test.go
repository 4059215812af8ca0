package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-datasource/internal/handler"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		fileName         string
		content          string
		skipFileCreation bool
		wantConfig       *Config
		wantErr          bool
	}{
		{
			name:     "yaml_config",
			fileName: "config.yaml",
			content: `name: storefront
dataSource:
  list:
    - id: info
      isInit: true
      type: fetch
      options:
        uri: /api/info
        method: GET
        params:
          page: 1
      dataHandler:
        type: JSFunction
        value: data.result
    - id: lazy
      type: jsonp
      options:
        uri: https://example.com/lazy
  dataHandler:
    type: JSFunction
    value: data
transport:
  timeout: 5s
  retry:
    maxAttempts: 3
stateDir: /var/lib/thv-datasource`,
			wantConfig: &Config{
				Name: "storefront",
				DataSource: DataSource{
					List: []SourceEntry{
						{
							ID:     "info",
							IsInit: true,
							Type:   "fetch",
							Options: map[string]any{
								"uri":    "/api/info",
								"method": "GET",
								"params": map[string]any{"page": 1},
							},
							DataHandler: &handler.Source{Type: handler.SourceTypeFunction, Value: "data.result"},
						},
						{
							ID:   "lazy",
							Type: "jsonp",
							Options: map[string]any{
								"uri": "https://example.com/lazy",
							},
						},
					},
					DataHandler: &handler.Source{Type: handler.SourceTypeFunction, Value: "data"},
				},
				Transport: &TransportConfig{
					Timeout: "5s",
					Retry:   &RetryConfig{MaxAttempts: 3},
				},
				StateDir: "/var/lib/thv-datasource",
			},
		},
		{
			name:     "json_config",
			fileName: "config.json",
			content: `{
  "dataSource": {
    "list": [
      {"id": "a", "isInit": "true", "type": "fetch", "options": {"uri": "/a"}}
    ]
  }
}`,
			wantConfig: &Config{
				DataSource: DataSource{
					List: []SourceEntry{
						{ID: "a", IsInit: "true", Type: "fetch", Options: map[string]any{"uri": "/a"}},
					},
				},
			},
		},
		{
			name:     "toml_config",
			fileName: "config.toml",
			content: `name = "edge"

[[dataSource.list]]
id = "a"
isInit = true
type = "fetch"

[dataSource.list.options]
uri = "/a"

[hooks]
baseURL = "https://api.example.com"
errorPath = "data.error"`,
			wantConfig: &Config{
				Name: "edge",
				DataSource: DataSource{
					List: []SourceEntry{
						{ID: "a", IsInit: true, Type: "fetch", Options: map[string]any{"uri": "/a"}},
					},
				},
				Hooks: &HooksConfig{
					BaseURL:   "https://api.example.com",
					ErrorPath: "data.error",
				},
			},
		},
		{
			name:     "invalid_yaml",
			fileName: "config.yaml",
			content:  `dataSource: [invalid yaml`,
			wantErr:  true,
		},
		{
			name:     "duplicate_ids",
			fileName: "config.yaml",
			content: `dataSource:
  list:
    - id: a
      type: fetch
    - id: a
      type: jsonp`,
			wantErr: true,
		},
		{
			name:             "file_not_found",
			fileName:         "config.yaml",
			skipFileCreation: true,
			wantErr:          true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, tt.fileName)

			if tt.skipFileCreation {
				configPath = filepath.Join(tmpDir, "non-existent.yaml")
			} else {
				err := os.WriteFile(configPath, []byte(tt.content), 0600)
				require.NoError(t, err)
			}

			config, err := LoadConfig(WithConfigPath(configPath))

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantConfig, config)
		})
	}
}

func TestLoadConfigWithoutPath(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestWithConfigPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "empty path", path: "", wantErr: true},
		{name: "missing file", path: "/nonexistent/dir/config.yaml", wantErr: true},
		{name: "path traversal", path: "../../../../../../etc/does-not-exist", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &loaderConfig{}
			err := WithConfigPath(tt.path)(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}

	t.Run("absolute path resolves", func(t *testing.T) {
		t.Parallel()

		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "app.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("dataSource: {}"), 0600))

		cfg := &loaderConfig{}
		require.NoError(t, WithConfigPath(configPath)(cfg))

		want, err := filepath.EvalSymlinks(configPath)
		require.NoError(t, err)
		assert.Equal(t, want, cfg.path)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:   "empty_config",
			config: &Config{},
		},
		{
			name: "missing_id",
			config: &Config{
				DataSource: DataSource{List: []SourceEntry{{Type: "fetch"}}},
			},
			wantErr: "id is required",
		},
		{
			name: "duplicate_id",
			config: &Config{
				DataSource: DataSource{List: []SourceEntry{{ID: "a"}, {ID: "a"}}},
			},
			wantErr: "duplicate id 'a'",
		},
		{
			name:   "supported_version",
			config: &Config{Version: "1.0.0"},
		},
		{
			name:   "older_version",
			config: &Config{Version: "0.9.0"},
		},
		{
			name:    "newer_version",
			config:  &Config{Version: "2.0.0"},
			wantErr: "newer than the supported version",
		},
		{
			name: "unknown_type_is_accepted",
			config: &Config{
				DataSource: DataSource{List: []SourceEntry{{ID: "a", Type: "legao"}}},
			},
		},
		{
			name:    "invalid_timeout",
			config:  &Config{Transport: &TransportConfig{Timeout: "soon"}},
			wantErr: "transport.timeout",
		},
		{
			name: "non_positive_rate",
			config: &Config{Transport: &TransportConfig{
				RateLimit: &RateLimitConfig{RequestsPerSecond: 0},
			}},
			wantErr: "requestsPerSecond must be positive",
		},
		{
			name: "negative_burst",
			config: &Config{Transport: &TransportConfig{
				RateLimit: &RateLimitConfig{RequestsPerSecond: 1, Burst: -1},
			}},
			wantErr: "burst cannot be negative",
		},
		{
			name:    "zero_retry_attempts",
			config:  &Config{Transport: &TransportConfig{Retry: &RetryConfig{}}},
			wantErr: "maxAttempts must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultName, (&Config{}).GetName())
	assert.Equal(t, "edge", (&Config{Name: "edge"}).GetName())
}

func TestTransportGetTimeout(t *testing.T) {
	t.Parallel()

	var nilCfg *TransportConfig
	d, err := nilCfg.GetTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = (&TransportConfig{Timeout: "1500ms"}).GetTimeout()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", d.String())
}

func TestDataSourceFind(t *testing.T) {
	t.Parallel()

	ds := &DataSource{List: []SourceEntry{{ID: "a", Type: "fetch"}, {ID: "b", Type: "jsonp"}}}

	entry, ok := ds.Find("b")
	require.True(t, ok)
	assert.Equal(t, "jsonp", entry.Type)

	_, ok = ds.Find("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, ds.IDs())

	var nilDS *DataSource
	_, ok = nilDS.Find("a")
	assert.False(t, ok)
	assert.Nil(t, nilDS.IDs())
}
