package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/status"
)

// LoadInitData runs the auto-init batch and persists the resulting registry
// snapshot when persistence is configured. A failed snapshot write is
// logged; the data is still returned.
func LoadInitData(ctx context.Context, cfg *config.Config, components *AppComponents) (any, error) {
	if components == nil || components.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	data, err := components.Orchestrator.GetInitData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load init data: %w", err)
	}

	counts := components.Orchestrator.Registry().StatusSnapshot().Count()
	slog.Info("Init data loaded",
		"name", cfg.GetName(),
		"loaded", counts[status.StatusLoaded],
		"failed", counts[status.StatusError],
	)

	if err := SaveSnapshot(ctx, cfg, components); err != nil {
		slog.Error("Failed to persist registry snapshot", "error", err)
	}

	return data, nil
}

// SaveSnapshot writes the current registry snapshot under the configured
// name. It does nothing without persistence.
func SaveSnapshot(ctx context.Context, cfg *config.Config, components *AppComponents) error {
	if components == nil || components.Persistence == nil || components.Orchestrator == nil {
		return nil
	}

	snapshot := components.Orchestrator.Registry().StatusSnapshot()
	if err := components.Persistence.SaveSnapshot(ctx, cfg.GetName(), snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", cfg.GetName(), err)
	}
	return nil
}
