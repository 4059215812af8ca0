package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-datasource/internal/config"
	"github.com/stacklok/toolhive-datasource/internal/datasource"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file without sending any request",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(config.WithConfigPath(args[0]))
	if err != nil {
		return err
	}

	orch := datasource.New(nil, &cfg.DataSource, nil, nil)
	autoInit := orch.GetAutoInitDescriptors()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Valid configuration\n")
	_, _ = fmt.Fprintf(out, "  Name: %s\n", cfg.GetName())
	_, _ = fmt.Fprintf(out, "  Sources: %d\n", len(cfg.DataSource.List))
	_, _ = fmt.Fprintf(out, "  Auto-init: %d\n", len(autoInit))
	for _, d := range autoInit {
		_, _ = fmt.Fprintf(out, "    - %s\n", d)
	}
	return nil
}
