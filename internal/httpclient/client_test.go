package httpclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-datasource/internal/httpclient"
)

// newTestServer creates a new test server with keep-alives disabled.
// This prevents flaky tests when running in parallel, as closing a server
// with keep-alives enabled can affect other tests sharing the HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestNewDefaultClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
		opts    []httpclient.Option
	}{
		{name: "custom timeout", timeout: 5 * time.Second},
		{name: "zero timeout uses default", timeout: 0},
		{
			name:    "all options",
			timeout: time.Second,
			opts: []httpclient.Option{
				httpclient.WithUserAgent("custom/2.0"),
				httpclient.WithRateLimit(10, 2),
				httpclient.WithRetry(3, 10*time.Millisecond),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := httpclient.NewDefaultClient(tt.timeout, tt.opts...)
			require.NotNil(t, client, "client should not be nil")
		})
	}
}

func TestDefaultClient_Get_SuccessfulRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		responseBody string
		extra        map[string]any
		expected     any
	}{
		{
			name:         "JSON object",
			responseBody: `{"message": "success"}`,
			expected:     map[string]any{"message": "success"},
		},
		{
			name:         "JSON array",
			responseBody: `[1, 2]`,
			expected:     []any{float64(1), float64(2)},
		},
		{
			name:         "plain text",
			responseBody: "plain text content",
			expected:     "plain text content",
		},
		{
			name:         "text response type keeps JSON raw",
			responseBody: `{"value": 1}`,
			extra:        map[string]any{httpclient.ExtraResponseType: "text"},
			expected:     `{"value": 1}`,
		},
		{
			name:         "empty body",
			responseBody: "",
			expected:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var receivedUserAgent string
			var receivedAccept string

			mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				receivedUserAgent = r.Header.Get("User-Agent")
				receivedAccept = r.Header.Get("Accept")

				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(tt.responseBody))
			}))
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(30 * time.Second)

			data, err := client.Get(context.Background(), mockServer.URL, nil, nil, tt.extra)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, data)
			assert.Equal(t, httpclient.UserAgent, receivedUserAgent, "User-Agent header should be set correctly")
			assert.Equal(t, "application/json", receivedAccept, "Accept header should be set correctly")
		})
	}
}

func TestDefaultClient_Get_QueryEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		url       string
		params    any
		wantQuery string
	}{
		{
			name:      "keyed params",
			params:    map[string]any{"page": 2, "q": "a b"},
			wantQuery: "page=2&q=a+b",
		},
		{
			name:      "list values repeat the key",
			params:    map[string]any{"id": []any{"x", "y"}},
			wantQuery: "id=x&id=y",
		},
		{
			name:      "nested objects are JSON encoded",
			params:    map[string]any{"filter": map[string]any{"tag": "a"}},
			wantQuery: "filter=%7B%22tag%22%3A%22a%22%7D",
		},
		{
			name:      "array params are JSON encoded under params",
			params:    []any{"a", float64(1)},
			wantQuery: "params=%5B%22a%22%2C1%5D",
		},
		{
			name:      "existing query is kept",
			url:       "/items?sort=asc",
			params:    map[string]string{"page": "1"},
			wantQuery: "sort=asc&page=1",
		},
		{
			name:      "no params",
			wantQuery: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var rawQuery string
			mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				rawQuery = r.URL.RawQuery
				w.WriteHeader(http.StatusOK)
			}))
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(0)
			_, err := client.Get(context.Background(), mockServer.URL+tt.url, tt.params, nil, nil)

			require.NoError(t, err)
			assert.Equal(t, tt.wantQuery, rawQuery)
		})
	}
}

func TestDefaultClient_Post(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		params          any
		headers         map[string]string
		wantBody        string
		wantContentType string
	}{
		{
			name:            "JSON body",
			params:          map[string]any{"name": "a"},
			headers:         map[string]string{"X-Trace": "1"},
			wantBody:        `{"name":"a"}`,
			wantContentType: "application/json",
		},
		{
			name:            "form body",
			params:          map[string]any{"name": "a", "n": 1},
			headers:         map[string]string{"content-type": "application/x-www-form-urlencoded"},
			wantBody:        "n=1&name=a",
			wantContentType: "application/x-www-form-urlencoded",
		},
		{
			name:            "array body",
			params:          []any{"a", "b"},
			wantBody:        `["a","b"]`,
			wantContentType: "application/json",
		},
		{
			name:     "no body",
			wantBody: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				method      string
				body        string
				contentType string
				trace       string
			)
			mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				method = r.Method
				data, _ := io.ReadAll(r.Body)
				body = string(data)
				contentType = r.Header.Get("Content-Type")
				trace = r.Header.Get("X-Trace")
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(0)
			data, err := client.Post(context.Background(), mockServer.URL, tt.params, tt.headers, nil)

			require.NoError(t, err)
			assert.Equal(t, map[string]any{"ok": true}, data)
			assert.Equal(t, http.MethodPost, method)
			assert.Equal(t, tt.wantBody, body)
			assert.Equal(t, tt.wantContentType, contentType)
			assert.Equal(t, tt.headers["X-Trace"], trace)
		})
	}
}

func TestDefaultClient_Request_Methods(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		wantMethod string
		wantBody   bool
	}{
		{name: "put sends body", method: "put", wantMethod: http.MethodPut, wantBody: true},
		{name: "patch sends body", method: "PATCH", wantMethod: http.MethodPatch, wantBody: true},
		{name: "delete uses query", method: "Delete", wantMethod: http.MethodDelete},
		{name: "empty method is GET", method: "", wantMethod: http.MethodGet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				method string
				body   string
				query  string
			)
			mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				method = r.Method
				data, _ := io.ReadAll(r.Body)
				body = string(data)
				query = r.URL.RawQuery
				w.WriteHeader(http.StatusNoContent)
			}))
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(0)
			data, err := client.Request(context.Background(), mockServer.URL, tt.method,
				map[string]any{"id": "7"}, nil, nil)

			require.NoError(t, err)
			assert.Nil(t, data)
			assert.Equal(t, tt.wantMethod, method)
			if tt.wantBody {
				assert.JSONEq(t, `{"id":"7"}`, body)
				assert.Empty(t, query)
			} else {
				assert.Empty(t, body)
				assert.Equal(t, "id=7", query)
			}
		})
	}
}

func TestDefaultClient_Get_HTTPErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		statusCode    int
		responseBody  string
		errorContains string
	}{
		{name: "404 Not Found", statusCode: http.StatusNotFound, responseBody: "Not Found", errorContains: "HTTP 404"},
		{name: "500 Internal Server Error", statusCode: http.StatusInternalServerError, errorContains: "HTTP 500"},
		{name: "401 Unauthorized", statusCode: http.StatusUnauthorized, errorContains: "HTTP 401"},
		{name: "429 Too Many Requests", statusCode: http.StatusTooManyRequests, errorContains: "HTTP 429"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.responseBody))
			}))
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(30 * time.Second)

			_, err := client.Get(context.Background(), mockServer.URL, nil, nil, nil)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)

			var httpErr *httpclient.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.statusCode, httpErr.StatusCode)
		})
	}
}

func TestDefaultClient_Get_NetworkErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		url           string
		errorContains string
	}{
		{name: "invalid URL scheme", url: "://invalid-url", errorContains: "failed to create request"},
		{name: "unreachable host", url: "http://invalid-host-does-not-exist.local:9999", errorContains: "failed to execute request"},
		{name: "invalid URL format", url: "not-a-valid-url", errorContains: "failed to execute request"},
		{name: "empty URL", url: "", errorContains: "failed to execute request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := httpclient.NewDefaultClient(30 * time.Second)

			_, err := client.Get(context.Background(), tt.url, nil, nil, nil)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestDefaultClient_ContextAndTimeout(t *testing.T) {
	t.Parallel()

	slowServer := func() *httptest.Server {
		return newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			w.WriteHeader(http.StatusOK)
		}))
	}

	t.Run("should respect context cancellation", func(t *testing.T) {
		t.Parallel()

		mockServer := slowServer()
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(30 * time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := client.Get(ctx, mockServer.URL, nil, nil, nil)
		require.Error(t, err)
	})

	t.Run("should respect timeout extra in milliseconds", func(t *testing.T) {
		t.Parallel()

		mockServer := slowServer()
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(30 * time.Second)

		start := time.Now()
		_, err := client.Get(context.Background(), mockServer.URL, nil, nil,
			map[string]any{httpclient.ExtraTimeout: 100})

		require.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("cancelled context is not retried", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(30*time.Second, httpclient.WithRetry(5, time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := client.Get(ctx, mockServer.URL, nil, nil, nil)
		require.Error(t, err)
		assert.LessOrEqual(t, calls.Load(), int32(1))
	})
}

func TestDefaultClient_Retry(t *testing.T) {
	t.Parallel()

	t.Run("retries server errors until success", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"value":1}`))
		}))
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(0, httpclient.WithRetry(3, time.Millisecond))
		data, err := client.Get(context.Background(), mockServer.URL, nil, nil, nil)

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"value": float64(1)}, data)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(0, httpclient.WithRetry(2, time.Millisecond))
		_, err := client.Get(context.Background(), mockServer.URL, nil, nil, nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 502")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer mockServer.Close()

		client := httpclient.NewDefaultClient(0, httpclient.WithRetry(5, time.Millisecond))
		_, err := client.Get(context.Background(), mockServer.URL, nil, nil, nil)

		var httpErr *httpclient.HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestDefaultClient_RateLimit(t *testing.T) {
	t.Parallel()

	mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer mockServer.Close()

	client := httpclient.NewDefaultClient(0, httpclient.WithRateLimit(10, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), mockServer.URL, nil, nil, nil)
		require.NoError(t, err)
	}

	// one token is available immediately, the next two arrive 100ms apart
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestDefaultClient_SizeLimitExceeded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		handler       http.HandlerFunc
		errorContains []string
	}{
		{
			name: "reject response exceeding 100MB via Content-Length",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Length", fmt.Sprintf("%d", 101*1024*1024))
				w.WriteHeader(http.StatusOK)
			},
			errorContains: []string{"exceeds maximum allowed size", "100.00 MB"},
		},
		{
			name: "reject response exceeding 100MB by actual content",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				chunk := make([]byte, 1024*1024)
				for i := 0; i < 101; i++ {
					_, _ = w.Write(chunk)
				}
			},
			errorContains: []string{"exceeds maximum allowed size"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mockServer := newTestServer(tt.handler)
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(30 * time.Second)
			_, err := client.Get(context.Background(), mockServer.URL, nil, nil, nil)

			require.Error(t, err)
			for _, contains := range tt.errorContains {
				assert.Contains(t, err.Error(), contains)
			}
		})
	}
}

func TestDefaultClient_JSONP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		extra     map[string]any
		respond   func(callback string) string
		param     string
		want      any
		wantError error
	}{
		{
			name:    "generated callback",
			param:   "callback",
			respond: func(cb string) string { return cb + `({"value":1});` },
			want:    map[string]any{"value": float64(1)},
		},
		{
			name:    "fixed callback and param name",
			extra:   map[string]any{httpclient.ExtraJSONPCallback: "render", httpclient.ExtraJSONPCallbackParam: "cb"},
			param:   "cb",
			respond: func(cb string) string { return "/**/ " + cb + `([1,2])` },
			want:    []any{float64(1), float64(2)},
		},
		{
			name:      "unwrapped response",
			param:     "callback",
			respond:   func(string) string { return `{"value":1}` },
			wantError: httpclient.ErrInvalidJSONP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var page string
			mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				page = r.URL.Query().Get("page")
				callback := r.URL.Query().Get(tt.param)
				w.Header().Set("Content-Type", "application/javascript")
				_, _ = w.Write([]byte(tt.respond(callback)))
			}))
			defer mockServer.Close()

			client := httpclient.NewDefaultClient(0)
			data, err := client.JSONP(context.Background(), mockServer.URL, map[string]any{"page": 3}, tt.extra)

			if tt.wantError != nil {
				require.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
			assert.Equal(t, "3", page)
		})
	}
}

func TestDefaultClient_JSONBodyRoundTrip(t *testing.T) {
	t.Parallel()

	mockServer := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		in["echo"] = true
		_ = json.NewEncoder(w).Encode(in)
	}))
	defer mockServer.Close()

	client := httpclient.NewDefaultClient(0)
	data, err := client.Post(context.Background(), mockServer.URL, map[string]any{"a": "b"}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "b", "echo": true}, data)
}
