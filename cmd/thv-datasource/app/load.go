package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	dsapp "github.com/stacklok/toolhive-datasource/internal/app"
	"github.com/stacklok/toolhive-datasource/internal/status"
)

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <id>",
		Short: "Load a single data source on demand",
		Long: `Load one data source by id, whatever its isInit flag, and print the
handler output as JSON. --params is merged into the configured params and
--options overrides the configured request options.`,
		Args: cobra.ExactArgs(1),
		RunE: runLoad,
	}
	addConfigFlags(cmd)
	cmd.Flags().String("params", "", "Request params as JSON")
	cmd.Flags().String("options", "", "Request option overrides as a JSON object")
	return cmd
}

func runLoad(cmd *cobra.Command, args []string) error {
	id := args[0]

	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	if _, ok := cfg.DataSource.Find(id); !ok {
		return fmt.Errorf("unknown data source %q", id)
	}

	var params any
	if raw, _ := cmd.Flags().GetString("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return fmt.Errorf("invalid --params: %w", err)
		}
	}

	var options map[string]any
	if raw, _ := cmd.Flags().GetString("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return fmt.Errorf("invalid --options: %w", err)
		}
	}

	orch, err := dsapp.NewOrchestrator(dsapp.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	var result any
	if options != nil {
		result = orch.GetOneSourceData(cmd.Context(), id, params, options)
	} else {
		result = orch.GetOneSourceData(cmd.Context(), id, params)
	}

	if cfg.StateDir != "" {
		components := &dsapp.AppComponents{
			Orchestrator: orch,
			Persistence:  status.NewFileSnapshotPersistence(cfg.StateDir),
		}
		if err := dsapp.SaveSnapshot(cmd.Context(), cfg, components); err != nil {
			return err
		}
	}

	if resultErr, ok := result.(error); ok {
		return fmt.Errorf("failed to load %s: %w", id, resultErr)
	}
	if entry, ok := orch.Registry().Get(id); ok && entry.Status == status.StatusError {
		slog.Warn("Data source request failed", "id", id, "error", entry.Err)
	}

	return writeJSON(cmd.OutOrStdout(), result)
}
