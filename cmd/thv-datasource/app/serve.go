package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	dsapp "github.com/stacklok/toolhive-datasource/internal/app"
	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/datasource"
	"github.com/stacklok/toolhive-datasource/internal/telemetry"
	"github.com/stacklok/toolhive-datasource/internal/versions"
	"github.com/stacklok/toolhive-datasource/internal/watch"
)

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the data source API server",
		Long: `Start the data source API server.

The server loads the auto-init sources on startup and exposes the registry
over HTTP. With --watch the configuration file is reloaded on change and the
registry is reconciled against the new source list.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	addConfigFlags(cmd)
	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().Bool("watch", false, "Reload the configuration file on change")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address, _ := cmd.Flags().GetString("address")
	watchConfig, _ := cmd.Flags().GetBool("watch")
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"name", cfg.GetName(),
		"sources", len(cfg.DataSource.List),
	)

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(telemetryConfig(cfg)))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	opts := []dsapp.DataSourceAppOptions{
		dsapp.WithConfig(cfg),
		dsapp.WithAddress(address),
		dsapp.WithMeterProvider(tel.MeterProvider()),
		dsapp.WithTracerProvider(tel.TracerProvider()),
		dsapp.WithMetricsHandler(tel.MetricsHandler()),
	}

	// The watcher is created before the orchestrator exists; it only fires
	// once Start runs, by which time orch is set.
	var orch *datasource.Orchestrator
	if watchConfig {
		w, err := watch.New(configPath, func(next *config.Config) {
			orch.UpdateConfig(&next.DataSource)
		})
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		opts = append(opts, dsapp.WithWatcher(w))
	}

	app, err := dsapp.NewDataSourceApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create data source app: %w", err)
	}
	orch = app.GetComponents().Orchestrator

	if _, err := dsapp.LoadInitData(ctx, cfg, app.GetComponents()); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	return app.Stop(defaultGracefulTimeout)
}

// telemetryConfig returns the telemetry section with the build version
// filled in when the file does not set one
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	if cfg.Telemetry == nil {
		return nil
	}
	tc := *cfg.Telemetry
	if tc.ServiceVersion == "" {
		tc.ServiceVersion = versions.Version
	}
	return &tc
}
