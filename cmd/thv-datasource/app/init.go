package app

import (
	"fmt"

	"github.com/spf13/cobra"

	dsapp "github.com/stacklok/toolhive-datasource/internal/app"
	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/status"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Load every auto-init data source and print the aggregated data",
		Long: `Load every data source declared with isInit: true, run the data handlers
and print the aggregated result as JSON. When a state directory is given the
resulting registry snapshot is written there.`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
	addConfigFlags(cmd)
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	orch, err := dsapp.NewOrchestrator(dsapp.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	components := &dsapp.AppComponents{Orchestrator: orch}
	if cfg.StateDir != "" {
		components.Persistence = status.NewFileSnapshotPersistence(cfg.StateDir)
	}

	data, err := dsapp.LoadInitData(cmd.Context(), cfg, components)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), data)
}

// addConfigFlags registers the flags shared by commands that read a configuration file
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to configuration file (YAML, JSON or TOML, required)")
	cmd.Flags().String("state-dir", "", "Directory for registry snapshots (overrides stateDir)")
	_ = cmd.MarkFlagRequired("config")
}

// loadConfigFromFlags loads the --config file and applies --state-dir
func loadConfigFromFlags(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if stateDir, _ := cmd.Flags().GetString("state-dir"); stateDir != "" {
		cfg.StateDir = stateDir
	}
	return cfg, nil
}
