package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-datasource/internal/status"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a persisted registry snapshot",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	cmd.Flags().String("state-dir", "", "Directory holding registry snapshots (required)")
	cmd.Flags().String("name", "", "Snapshot name; all snapshots are printed when empty")
	_ = cmd.MarkFlagRequired("state-dir")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	stateDir, _ := cmd.Flags().GetString("state-dir")
	name, _ := cmd.Flags().GetString("name")

	persistence := status.NewFileSnapshotPersistence(stateDir)

	if name == "" {
		all, err := persistence.LoadAllSnapshots(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load snapshots: %w", err)
		}
		return writeJSON(cmd.OutOrStdout(), all)
	}

	snapshot, err := persistence.LoadSnapshot(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}
	return writeJSON(cmd.OutOrStdout(), snapshot)
}
