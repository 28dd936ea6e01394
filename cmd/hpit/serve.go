package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/hpit/internal/broker"
	"github.com/alfredjeanlab/hpit/internal/client"
	"github.com/alfredjeanlab/hpit/internal/config"
	"github.com/alfredjeanlab/hpit/internal/events"
	"github.com/alfredjeanlab/hpit/internal/logging"
	"github.com/alfredjeanlab/hpit/internal/plugin"
	"github.com/alfredjeanlab/hpit/internal/presence"
	"github.com/alfredjeanlab/hpit/internal/server"
	"github.com/alfredjeanlab/hpit/internal/store"
	"github.com/alfredjeanlab/hpit/internal/store/memory"
	"github.com/alfredjeanlab/hpit/internal/store/postgres"
	hpitsync "github.com/alfredjeanlab/hpit/internal/sync"
	"github.com/alfredjeanlab/hpit/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the hub",
	GroupID: "system",
	// The hub does not need a client connection.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		shutdownTracing, err := telemetry.Setup(context.Background(), "hpit-hub", cfg.OTelEndpoint)
		if err != nil {
			logger.Error("tracing disabled", "err", err)
		}

		// Store: Postgres when configured, otherwise in memory.
		var st store.Store
		if cfg.DatabaseURL != "" {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			st = pg
			logger.Info("postgres store enabled")
		} else {
			st = memory.New()
			logger.Info("in-memory store enabled (HPIT_DATABASE_URL not set)")
		}

		// Event publisher and, for hosted plugins, wake-up subscriber.
		var (
			publisher events.Publisher = &events.NoopPublisher{}
			wakeups   *events.NATSSubscriber
		)
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("events disabled (HPIT_NATS_URL not set)")
		}

		registry := presence.New()
		hub := server.NewHubServer(st, publisher,
			broker.WithLogger(logger),
			broker.WithVersion(cfg.Version),
			broker.WithRegistry(registry),
		)
		svc := hub.Service()
		if cfg.SessionTTL > 0 {
			registry.StartReaper(&presence.ReaperConfig{
				IdleTimeout: cfg.SessionTTL,
				OnExpired:   svc.Expired,
			})
		}

		grpcServer := server.NewGRPCServer(hub, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			registry.Stop()
			publisher.Close()
			st.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: hub.NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler := startSync(cfg, st, logger)

		// Plugins hosted next to the broker.
		pluginsCtx, stopPlugins := context.WithCancel(context.Background())
		pluginsDone := make(chan struct{})
		hosted, _ := cmd.Flags().GetStringSlice("plugins")
		if len(hosted) > 0 {
			settingsPath, _ := cmd.Flags().GetString("plugin-config")
			settings, err := config.LoadPluginSettings(settingsPath)
			if err != nil {
				logger.Error("plugin settings", "err", err)
				settings, _ = config.LoadPluginSettings("")
			}
			if cfg.NATSURL != "" {
				if sub, err := events.NewNATSSubscriber(cfg.NATSURL); err != nil {
					logger.Warn("plugin wake-ups disabled", "err", err)
				} else {
					wakeups = sub
				}
			}
			env := pluginEnv{settings: settings, store: st, logger: logger}
			if wakeups != nil {
				env.wakeups = wakeups
			}
			var runtimes []*plugin.Runtime
			for _, key := range hosted {
				rt, err := buildPlugin(key, client.NewLocalClient(svc), env)
				if err != nil {
					logger.Error("skipping plugin", "plugin", key, "err", err)
					continue
				}
				runtimes = append(runtimes, rt)
			}
			go func() {
				defer close(pluginsDone)
				if err := runPlugins(pluginsCtx, runtimes, logger); err != nil {
					logger.Error("hosted plugins stopped", "err", err)
				}
			}()
			logger.Info("hosted plugins started", "plugins", hosted)
		} else {
			close(pluginsDone)
		}

		logger.Info("hpit hub started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"version", cfg.Version,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		stopPlugins()
		<-pluginsDone
		if wakeups != nil {
			wakeups.Close()
		}
		logger.Info("hosted plugins stopped")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}
		registry.Stop()

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("error flushing traces", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringSlice("plugins", nil, "plugins to host in the hub process (kt, student-model)")
	serveCmd.Flags().String("plugin-config", os.Getenv("HPIT_PLUGIN_CONFIG"), "plugin settings TOML file")
}

// startSync starts the export scheduler when a destination is configured.
func startSync(cfg *config.Config, st store.Store, logger *slog.Logger) *hpitsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []hpitsync.Destination

	if cfg.SyncS3Bucket != "" {
		s3Dest, err := hpitsync.NewS3Destination(context.Background(), hpitsync.S3Options{
			Bucket:    cfg.SyncS3Bucket,
			Key:       cfg.SyncS3Key,
			Region:    cfg.SyncS3Region,
			Endpoint:  cfg.SyncS3Endpoint,
			Snapshots: cfg.SyncS3Snapshot,
		})
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}

	if cfg.SyncGitRepo != "" {
		dests = append(dests, hpitsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}

	if len(dests) == 0 {
		return nil
	}
	scheduler := hpitsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}
