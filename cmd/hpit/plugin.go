package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/hpit/internal/client"
	"github.com/alfredjeanlab/hpit/internal/config"
	"github.com/alfredjeanlab/hpit/internal/events"
	"github.com/alfredjeanlab/hpit/internal/logging"
	"github.com/alfredjeanlab/hpit/internal/plugin"
	"github.com/alfredjeanlab/hpit/internal/store"
	"github.com/alfredjeanlab/hpit/internal/store/memory"
	"github.com/alfredjeanlab/hpit/internal/store/postgres"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin <kt|student-model>...",
	Short: "Run plugins against a remote hub",
	Long: `Run one or more plugins as hub clients until interrupted.

Settings come from a TOML file (--config), one [plugins.<key>] table per
plugin:

  hub_url   = "http://localhost:8080"
  nats_url  = "nats://localhost:4222"

  [plugins.kt]
  name                   = "kt"
  transaction_management = "<entity id of the transaction manager>"
  verify_skills          = true

  [plugins.student-model]
  timeout        = "30s"
  fragment_names = ["knowledge_tracing"]`,
	GroupID: "system",
	Args:    cobra.MinimumNArgs(1),
	// Each plugin opens its own connection.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		settings, err := config.LoadPluginSettings(path)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, settings)

		logFormat, _ := cmd.Flags().GetString("log-format")
		logLevel, _ := cmd.Flags().GetString("log-level")
		logger, err := logging.New(os.Stderr, logFormat, logLevel)
		if err != nil {
			return err
		}

		env := pluginEnv{settings: settings, logger: logger}
		if settings.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(settings.NATSURL)
			if err != nil {
				logger.Warn("wake-ups disabled", "err", err)
			} else {
				defer sub.Close()
				env.wakeups = sub
			}
		}

		var runtimes []*plugin.Runtime
		var clients []client.HubClient
		defer func() {
			for _, c := range clients {
				c.Close()
			}
		}()
		for _, key := range args {
			if key == pluginKT && env.store == nil {
				st, err := openMasteryStore(settings.DatabaseURL)
				if err != nil {
					return err
				}
				defer st.Close()
				env.store = st
			}
			hub, err := newHubClient(settings.Transport, settings.HubURL, settings.GRPCAddr, settings.HubToken)
			if err != nil {
				return err
			}
			clients = append(clients, hub)
			rt, err := buildPlugin(key, hub, env)
			if err != nil {
				return err
			}
			runtimes = append(runtimes, rt)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logger.Info("plugins running", "plugins", args, "hub", settings.HubURL)
		return runPlugins(ctx, runtimes, logger)
	},
}

func init() {
	pluginCmd.Flags().String("config", envOr("HPIT_PLUGIN_CONFIG", "hpit-plugins.toml"), "plugin settings TOML file")
	pluginCmd.Flags().String("log-format", envOr("HPIT_LOG_FORMAT", "text"), "log format (text, json or console)")
	pluginCmd.Flags().String("log-level", envOr("HPIT_LOG_LEVEL", "info"), "log level")
}

// applyFlagOverrides lets explicit root flags win over the settings file.
func applyFlagOverrides(cmd *cobra.Command, s *config.PluginSettings) {
	flags := cmd.Flags()
	if flags.Changed("http-url") || s.HubURL == "" {
		s.HubURL = httpURL
	}
	if flags.Changed("server") || s.GRPCAddr == "" {
		s.GRPCAddr = serverAddr
	}
	if flags.Changed("transport") || s.Transport == "" {
		s.Transport = transport
	}
	if flags.Changed("token") || s.HubToken == "" {
		s.HubToken = authToken
	}
}

func openMasteryStore(databaseURL string) (store.Store, error) {
	if databaseURL == "" {
		return memory.New(), nil
	}
	st, err := postgres.New(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening mastery store: %w", err)
	}
	return st, nil
}
