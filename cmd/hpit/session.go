package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/ui"
)

var connectCmd = &cobra.Command{
	Use:     "connect <tutor|plugin> <name>",
	Short:   "Register an entity and print its id",
	GroupID: "session",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := model.EntityKind(args[0])
		if !kind.IsValid() {
			return fmt.Errorf("unknown entity kind %q (must be tutor or plugin)", args[0])
		}
		reply, err := hubClient.Connect(cmd.Context(), kind, args[1])
		if err != nil {
			return fmt.Errorf("connecting: %w", err)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, reply)
		}
		fmt.Fprintf(out, "Connected %s as %s\n", ui.RenderAccent(reply.EntityName), reply.EntityID)
		fmt.Fprintln(out, ui.RenderMuted("export HPIT_ENTITY="+reply.EntityID))
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:     "disconnect",
	Short:   "Disconnect the entity given by --entity",
	GroupID: "session",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := hubClient.Disconnect(cmd.Context()); err != nil {
			return fmt.Errorf("disconnecting: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{"status": "OK"})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Disconnected")
		return nil
	},
}

var subscribeCmd = &cobra.Command{
	Use:     "subscribe <plugin> <event>",
	Short:   "Route an event to a plugin's queue",
	GroupID: "session",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := hubClient.Subscribe(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
		return printStatus(cmd, res)
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:     "unsubscribe <plugin> <event>",
	Short:   "Stop routing an event to a plugin",
	GroupID: "session",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := hubClient.Unsubscribe(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("unsubscribing: %w", err)
		}
		return printStatus(cmd, res)
	},
}

var subscriptionsCmd = &cobra.Command{
	Use:     "subscriptions <plugin>",
	Short:   "List the events a plugin is subscribed to",
	GroupID: "session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := hubClient.Subscriptions(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("listing subscriptions: %w", err)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			if subs == nil {
				subs = []string{}
			}
			return printJSON(out, map[string][]string{"subscriptions": subs})
		}
		if len(subs) == 0 {
			fmt.Fprintln(out, ui.RenderMuted("no subscriptions"))
			return nil
		}
		fmt.Fprintln(out, strings.Join(subs, "\n"))
		return nil
	},
}

func printStatus(cmd *cobra.Command, status string) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]string{"status": status})
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderStatus(status))
	return nil
}
