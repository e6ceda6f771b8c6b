package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"comfyforge/internal/assets"
	"comfyforge/internal/config"
	"comfyforge/internal/keys"
	"comfyforge/internal/metrics"
	"comfyforge/internal/monitor"
	"comfyforge/internal/pipeline"
	"comfyforge/internal/providers"
	"comfyforge/internal/refs"
	"comfyforge/internal/router"
	"comfyforge/internal/runs"
)

// Components is the wired core shared by the daemon and CLI commands.
type Components struct {
	Keys       *keys.Store
	Assets     *assets.Store
	Providers  *providers.Table
	Dispatcher *providers.Dispatcher
	Router     *router.Router
	Executor   *pipeline.Executor
	RunStore   runs.Store
	Runs       *runs.Service
	Monitor    *monitor.Monitor
	Metrics    *metrics.Recorder
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	table         *providers.Table
	clientOptions []providers.ClientOption
}

// WithProviderTable replaces the built-in adapter table.
func WithProviderTable(table *providers.Table) BuildOption {
	return func(o *buildOptions) {
		o.table = table
	}
}

// WithClientOptions forwards HTTP client options to the built-in adapters.
func WithClientOptions(opts ...providers.ClientOption) BuildOption {
	return func(o *buildOptions) {
		o.clientOptions = append(o.clientOptions, opts...)
	}
}

// Build opens the stores and wires every component from cfg. The caller owns
// the result and must Close it.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...BuildOption) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	var options buildOptions
	for _, opt := range opts {
		opt(&options)
	}
	strategy, err := router.ParseStrategy(cfg.Router.DefaultStrategy)
	if err != nil {
		return nil, err
	}

	c := &Components{Metrics: metrics.New()}
	c.Keys, err = keys.Open(cfg.KeysDBPath())
	if err != nil {
		return nil, fmt.Errorf("open key registry: %w", err)
	}
	c.Assets, err = assets.Open(cfg.AssetsDBPath())
	if err != nil {
		c.closeStores()
		return nil, fmt.Errorf("open asset store: %w", err)
	}
	c.RunStore, err = runs.NewStore(ctx, cfg)
	if err != nil {
		c.closeStores()
		return nil, fmt.Errorf("open run store: %w", err)
	}

	c.Providers = options.table
	if c.Providers == nil {
		c.Providers = providers.NewTable(cfg, options.clientOptions...)
	}
	c.Router = router.New(c.Keys,
		router.WithLogger(logger),
		router.WithObserver(c.Metrics),
		router.WithDefaultMinQuota(cfg.Router.MinQuota),
	)
	c.Dispatcher = providers.NewDispatcher(c.Providers, c.Router)
	c.Executor = pipeline.NewExecutor(c.Dispatcher, c.Router, refs.NewResolver(c.Assets, logger),
		pipeline.WithLogger(logger),
		pipeline.WithDefaultStrategy(strategy),
	)

	runOpts := []runs.Option{runs.WithLogger(logger), runs.WithObserver(c.Metrics)}
	if cfg.Runs.PersistOutputs {
		runOpts = append(runOpts, runs.WithOutputWriter(c.Assets))
	}
	c.Runs = runs.NewService(c.Executor, c.RunStore, runOpts...)

	c.Monitor = monitor.New(c.Keys, c.Providers, monitor.Settings{
		Interval:     cfg.MonitorInterval(),
		StaleAfter:   cfg.MonitorStaleAfter(),
		ProbeTimeout: cfg.ProbeTimeout(),
	}, monitor.WithLogger(logger), monitor.WithObserver(c.Metrics))
	return c, nil
}

// Close drains background runs, then closes every store.
func (c *Components) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Runs != nil {
		if err := c.Runs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain runs: %w", err))
		}
	}
	errs = append(errs, c.closeStores())
	return errors.Join(errs...)
}

func (c *Components) closeStores() error {
	var errs []error
	if c.RunStore != nil {
		errs = append(errs, c.RunStore.Close())
	}
	if c.Assets != nil {
		errs = append(errs, c.Assets.Close())
	}
	if c.Keys != nil {
		errs = append(errs, c.Keys.Close())
	}
	return errors.Join(errs...)
}
