// Package app provides application lifecycle management for the data source server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/toolhive-datasource/internal/config"
)

// DataSourceApp encapsulates all components needed to run the data source API server
type DataSourceApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the config watcher, if any, and the HTTP server.
// It blocks until the HTTP server stops or encounters an error.
func (app *DataSourceApp) Start() error {
	if w := app.components.Watcher; w != nil {
		go func() {
			if err := w.Watch(app.ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Config watcher failed", "error", err)
			}
		}()
	}

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout. The last
// registry snapshot is persisted when persistence is configured.
func (app *DataSourceApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	if w := app.components.Watcher; w != nil {
		if err := w.Close(); err != nil {
			slog.Error("Failed to close config watcher", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := SaveSnapshot(shutdownCtx, app.config, app.components); err != nil {
		slog.Error("Failed to persist registry snapshot", "error", err)
	}

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *DataSourceApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the application components
func (app *DataSourceApp) GetComponents() *AppComponents {
	return app.components
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *DataSourceApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
