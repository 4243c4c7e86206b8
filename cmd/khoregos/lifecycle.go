package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/basket/khoregos/internal/bus"
	"github.com/basket/khoregos/internal/config"
	"github.com/basket/khoregos/internal/otel"
	"github.com/basket/khoregos/internal/plugin"
	"github.com/basket/khoregos/internal/webhook"
)

// lifecycleServices bundles the process-scoped handles a lifecycle command
// owns for the duration of one invocation (spec §5: "long-lived enough to
// own a telemetry SDK and the plugin manager"). Unlike a hook subprocess,
// these commands construct the full stack, drain it, and shut it down
// before exiting.
type lifecycleServices struct {
	provider   *otel.Provider
	metrics    *otel.Metrics
	bus        *bus.Bus
	dispatcher *webhook.Dispatcher
	plugins    *plugin.Manager
	logger     *slog.Logger
	cancel     context.CancelFunc
}

func startLifecycleServices(ctx context.Context, cfg config.Config) (context.Context, *lifecycleServices, error) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	provider, err := otel.Init(ctx, otel.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return ctx, nil, err
	}

	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return ctx, nil, err
	}

	b := bus.New()

	targets := make([]webhook.Target, 0, len(cfg.Webhooks))
	for _, w := range cfg.Webhooks {
		targets = append(targets, webhook.Target{URL: w.URL, Secret: w.Secret, Events: w.Events})
	}
	dispatcher := webhook.New(targets, logger, metrics)

	pluginEntries := make([]plugin.Entry, 0, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		pluginEntries = append(pluginEntries, plugin.Entry{Module: p.Module, Config: p.Config})
	}
	plugins := plugin.NewManager(pluginEntries, soFileLoader, logger)

	runCtx, cancel := context.WithCancel(ctx)
	dispatcher.Start(runCtx, b)
	plugin.Bridge(runCtx, plugins, b)

	return runCtx, &lifecycleServices{
		provider: provider, metrics: metrics, bus: b,
		dispatcher: dispatcher, plugins: plugins, logger: logger, cancel: cancel,
	}, nil
}

// stop drains in-flight webhook deliveries, stops the bus subscribers, and
// shuts down the telemetry SDK, in that order: shutting the SDK down first
// would drop metrics that in-flight deliveries still record.
func (l *lifecycleServices) stop(ctx context.Context) {
	l.dispatcher.Wait()
	l.cancel()
	_ = l.provider.Shutdown(ctx)
}
