package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/hpit/internal/client"
	"github.com/alfredjeanlab/hpit/internal/config"
	"github.com/alfredjeanlab/hpit/internal/events"
	"github.com/alfredjeanlab/hpit/internal/kt"
	"github.com/alfredjeanlab/hpit/internal/plugin"
	"github.com/alfredjeanlab/hpit/internal/store"
	"github.com/alfredjeanlab/hpit/internal/studentmodel"
)

// Plugin keys accepted by --plugins and "hpit plugin".
const (
	pluginKT           = "kt"
	pluginStudentModel = "student-model"
)

// pluginEnv is what a plugin needs besides its hub connection.
type pluginEnv struct {
	settings *config.PluginSettings
	store    store.Store // mastery records for the knowledge tracer
	wakeups  events.Subscriber
	logger   *slog.Logger
}

// buildPlugin assembles the runtime for the plugin named by key.
func buildPlugin(key string, hub client.HubClient, env pluginEnv) (*plugin.Runtime, error) {
	entry := env.settings.Plugin(key)
	logger := env.logger.With("plugin", entry.Name)

	opts := []plugin.Option{
		plugin.WithPollInterval(entry.Interval()),
		plugin.WithLogger(logger),
	}
	if env.wakeups != nil {
		opts = append(opts, plugin.WithWakeups(env.wakeups))
	}
	rt := plugin.New(hub, entry.Name, opts...)

	switch key {
	case pluginKT:
		if env.store == nil {
			return nil, errors.New("kt plugin needs a store")
		}
		engineOpts := []kt.Option{kt.WithLogger(logger)}
		if entry.TransactionManagement != "" {
			engineOpts = append(engineOpts, kt.WithTransactionManager(entry.TransactionManagement))
		}
		if entry.VerifySkills {
			engineOpts = append(engineOpts, kt.WithVerifier(&kt.HubVerifier{Requester: rt}))
		}
		kt.NewHandlers(kt.NewEngine(env.store, engineOpts...)).Register(rt)
	case pluginStudentModel:
		studentmodel.NewHandlers(rt, logger,
			studentmodel.WithTimeout(entry.AggregateTimeout()),
			studentmodel.WithFragments(entry.FragmentNames...),
		).Register()
	default:
		return nil, fmt.Errorf("unknown plugin %q (must be %s or %s)", key, pluginKT, pluginStudentModel)
	}
	return rt, nil
}

// runPlugins runs every runtime until ctx is done or one of them fails to
// start. It returns the first error.
func runPlugins(ctx context.Context, runtimes []*plugin.Runtime, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, rt := range runtimes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rt.Run(ctx); err != nil {
				logger.Error("plugin stopped", "plugin", rt.Name(), "err", err)
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}()
	}
	wg.Wait()
	return firstErr
}
