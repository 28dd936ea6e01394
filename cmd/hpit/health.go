package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the hub",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := hubClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]string{"status": status}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		}

		if status != "ok" {
			return fmt.Errorf("unhealthy: %s", status)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print the hub's protocol version",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := hubClient.Version(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching version: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"version": v})
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}
