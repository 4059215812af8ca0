// Package hooks provides the request interception hooks configured from the
// hooks section of a data source configuration file.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/datasource"
	"github.com/stacklok/toolhive-datasource/internal/sources"
)

// ResponseError is returned by the after hook when a successful response
// carries a truthy value at the configured error path.
type ResponseError struct {
	Source string
	Path   string
	Value  string
}

// Error implements the error interface
func (e *ResponseError) Error() string {
	return fmt.Sprintf("source %s reported an error at %s: %s", e.Source, e.Path, e.Value)
}

// New builds the hooks for cfg. It returns nil when cfg configures nothing,
// which leaves requests untouched.
func New(cfg *config.HooksConfig) *datasource.AppHelper {
	if cfg == nil {
		return nil
	}

	utils := &datasource.Utils{}
	if cfg.BaseURL != "" || len(cfg.Headers) > 0 {
		utils.BeforeRequest = BeforeRequest(cfg.BaseURL, cfg.Headers)
	}
	if cfg.ErrorPath != "" {
		utils.AfterRequest = AfterRequest(cfg.ErrorPath)
	}
	if utils.BeforeRequest == nil && utils.AfterRequest == nil {
		return nil
	}
	return &datasource.AppHelper{Utils: utils}
}

// BeforeRequest resolves relative URIs against baseURL and adds headers the
// source does not set itself.
func BeforeRequest(baseURL string, headers map[string]string) datasource.BeforeRequestFunc {
	return func(_ context.Context, _ sources.Descriptor, opts sources.Options) sources.Options {
		if baseURL != "" {
			opts.URI = resolveURI(baseURL, opts.URI)
		}
		if len(headers) > 0 {
			merged := maps.Clone(headers)
			maps.Copy(merged, opts.Headers)
			opts.Headers = merged
		}
		return opts
	}
}

// AfterRequest converts a successful response into a *ResponseError when the
// value at path is truthy. Failures pass through unchanged.
func AfterRequest(path string) datasource.AfterRequestFunc {
	return func(_ context.Context, d sources.Descriptor, data any, err error) (any, error) {
		if err != nil || data == nil {
			return data, err
		}

		raw, mErr := json.Marshal(data)
		if mErr != nil {
			slog.Debug("Response is not JSON encodable, skipping error path", "source", d.ID, "error", mErr)
			return data, nil
		}

		res := gjson.GetBytes(raw, path)
		if !truthy(res) {
			return data, nil
		}
		return data, &ResponseError{Source: d.ID, Path: path, Value: describe(res)}
	}
}

func resolveURI(baseURL, uri string) string {
	if strings.HasPrefix(uri, "//") {
		return uri
	}
	if u, err := url.Parse(uri); err == nil && u.IsAbs() {
		return uri
	}
	if uri == "" {
		return baseURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(uri, "/")
}

func truthy(res gjson.Result) bool {
	switch res.Type {
	case gjson.True, gjson.JSON:
		return true
	case gjson.Number:
		return res.Num != 0
	case gjson.String:
		return res.Str != ""
	default:
		return false
	}
}

func describe(res gjson.Result) string {
	if res.Type == gjson.String {
		return res.Str
	}
	return res.Raw
}
