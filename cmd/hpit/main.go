package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/hpit/internal/client"
	"github.com/alfredjeanlab/hpit/internal/ui"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	jsonOutput bool
	authToken  string
	entityID   string
	noColor    bool

	hubClient client.HubClient
)

func envOr(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// newHubClient builds a client for the selected transport.
func newHubClient(transport, httpURL, grpcAddr, token string) (client.HubClient, error) {
	switch transport {
	case "http":
		return client.NewHTTPClient(httpURL, token), nil
	case "grpc":
		c, err := client.NewGRPCClient(grpcAddr, token)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
}

var rootCmd = &cobra.Command{
	Use:           "hpit <command>",
	Short:         "Hub and plugins for intelligent tutoring",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.SetColor(!noColor && ui.ShouldColor(cmd.OutOrStdout()))
		c, err := newHubClient(transport, httpURL, serverAddr, authToken)
		if err != nil {
			return err
		}
		if entityID != "" {
			c.SetEntityID(entityID)
		}
		hubClient = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if hubClient != nil {
			hubClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", envOr("HPIT_HTTP_URL", "http://localhost:8080"), "hub HTTP URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOr("HPIT_SERVER", "localhost:9090"), "hub gRPC address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", envOr("HPIT_TRANSPORT", "http"), "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("HPIT_AUTH_TOKEN"), "hub bearer token")
	rootCmd.PersistentFlags().StringVar(&entityID, "entity", os.Getenv("HPIT_ENTITY"), "entity id returned by connect")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Session:"},
		&cobra.Group{ID: "messaging", Title: "Messaging:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Session
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(unsubscribeCmd)
	rootCmd.AddCommand(subscriptionsCmd)

	// Messaging
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(transactionCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(transactionsCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(responsesCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
