// Package api provides the REST API exposing a data source orchestrator.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/toolhive-datasource/internal/api/common"
	"github.com/stacklok/toolhive-datasource/internal/datasource"
	"github.com/stacklok/toolhive-datasource/internal/versions"
)

// maxLoadRequestSize bounds the body of a load request
const maxLoadRequestSize = 1 << 20

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}

// LoadRequest is the body of POST /sources/{id}/load. Both fields are
// optional and are passed to the on-demand loader as params and options.
type LoadRequest struct {
	Params  any            `json:"params,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler serves h on /metrics. A nil handler is ignored
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// routes serves one orchestrator
type routes struct {
	orch *datasource.Orchestrator
}

// NewServer creates and configures the HTTP router for orch
func NewServer(orch *datasource.Orchestrator, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	rt := &routes{orch: orch}

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)
	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}

	r.Post("/init", rt.initData)
	r.Route("/sources", func(r chi.Router) {
		r.Get("/", rt.listSources)
		r.Get("/{id}", rt.getSource)
		r.Post("/{id}/load", rt.loadSource)
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}

// initData handles POST /init
func (rt *routes) initData(w http.ResponseWriter, r *http.Request) {
	data, err := rt.orch.GetInitData(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Init data batch failed", "error", err)
		common.WriteErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, data, http.StatusOK)
}

// listSources handles GET /sources
func (rt *routes) listSources(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, rt.orch.Registry().StatusSnapshot(), http.StatusOK)
}

// getSource handles GET /sources/{id}
func (rt *routes) getSource(w http.ResponseWriter, r *http.Request) {
	id, err := common.URLParam(r, "id")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, ok := rt.orch.Registry().Get(id)
	if !ok {
		common.WriteErrorResponse(w, "data source not found: "+id, http.StatusNotFound)
		return
	}
	common.WriteJSONResponse(w, entry.Snapshot(), http.StatusOK)
}

// loadSource handles POST /sources/{id}/load
func (rt *routes) loadSource(w http.ResponseWriter, r *http.Request) {
	id, err := common.URLParam(r, "id")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, ok := rt.orch.Registry().Get(id); !ok {
		common.WriteErrorResponse(w, "data source not found: "+id, http.StatusNotFound)
		return
	}

	var req LoadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxLoadRequestSize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		common.WriteErrorResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var result any
	if req.Options != nil {
		result = rt.orch.GetOneSourceData(r.Context(), id, req.Params, req.Options)
	} else {
		result = rt.orch.GetOneSourceData(r.Context(), id, req.Params)
	}

	if loadErr, ok := result.(error); ok {
		common.WriteErrorResponse(w, loadErr.Error(), http.StatusBadGateway)
		return
	}
	common.WriteJSONResponse(w, result, http.StatusOK)
}
