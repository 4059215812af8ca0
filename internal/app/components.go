package app

import (
	"github.com/stacklok/toolhive-datasource/internal/datasource"
	"github.com/stacklok/toolhive-datasource/internal/status"
	"github.com/stacklok/toolhive-datasource/internal/watch"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Orchestrator loads the configured data sources
	Orchestrator *datasource.Orchestrator

	// Persistence stores registry snapshots (optional)
	Persistence status.SnapshotPersistence

	// Watcher reloads the configuration file (optional)
	Watcher *watch.Watcher
}
