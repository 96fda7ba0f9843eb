// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the llmgate process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"llmgate/config"
	"llmgate/internal/gateway"
	"llmgate/internal/lifecycle"
	"llmgate/internal/metrics"
	"llmgate/internal/providers"
	"llmgate/internal/sampler"
	"llmgate/internal/server"
)

// ErrUnknownProvider is returned by Gateway for a provider that is not configured.
var ErrUnknownProvider = errors.New("provider is not configured")

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config    *config.Config
	metrics   *metrics.Registry
	signal    *lifecycle.Signal
	telemetry *server.Telemetry

	names    []string
	adapters map[string]*providers.Adapter
	gateways map[string]*gateway.Gateway

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.Config

	// Factory provides the ProviderFactory used to construct provider adapters.
	Factory *providers.ProviderFactory

	// TracerProvider is optional; the global provider is used when nil.
	TracerProvider trace.TracerProvider

	// Probe overrides the sampler's resource probe, mainly for tests.
	Probe sampler.Probe
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}
	appCfg := cfg.AppConfig

	a := &App{
		config:   appCfg,
		metrics:  metrics.NewRegistry(metrics.Options{RuntimeCollectors: true}),
		signal:   lifecycle.NewSignal(),
		adapters: make(map[string]*providers.Adapter),
		gateways: make(map[string]*gateway.Gateway),
	}

	resolved := providers.ResolveProviders(appCfg.Providers, appCfg.Backend)
	for name := range resolved {
		a.names = append(a.names, name)
	}
	sort.Strings(a.names)

	for _, name := range a.names {
		pCfg := resolved[name]
		adapter, err := cfg.Factory.Create(pCfg)
		if err != nil {
			closeErr := a.closeAdapters(ctx)
			if closeErr != nil {
				return nil, fmt.Errorf("failed to initialize provider %s: %w (also: close error: %v)", name, err, closeErr)
			}
			return nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
		}
		a.adapters[name] = adapter

		opts := []gateway.Option{gateway.WithAgentRole(pCfg.AgentRole)}
		if cfg.TracerProvider != nil {
			opts = append(opts, gateway.WithTracerProvider(cfg.TracerProvider))
		}
		gw, err := gateway.New(adapter, a.metrics, opts...)
		if err != nil {
			_ = a.closeAdapters(ctx)
			return nil, err
		}
		a.gateways[name] = gw
	}

	samplerOpts := []sampler.Option{sampler.WithTaskCounter(a.InFlight)}
	if cfg.Probe != nil {
		samplerOpts = append(samplerOpts, sampler.WithProbe(cfg.Probe))
	}
	a.telemetry = server.NewTelemetry(server.TelemetryConfig{
		ServiceName: appCfg.Service.Name,
		Enabled:     appCfg.Metrics.Enabled,
		Port:        appCfg.Metrics.Port,
		Endpoint:    appCfg.Metrics.Endpoint,
		Interval:    appCfg.Metrics.Interval,
	}, a.metrics, a.signal, samplerOpts...)

	a.logStartupInfo()
	return a, nil
}

// Providers returns the configured provider names, sorted.
func (a *App) Providers() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// Gateway returns the gateway of a configured provider.
func (a *App) Gateway(provider string) (*gateway.Gateway, error) {
	gw, ok := a.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return gw, nil
}

// Metrics returns the shared metrics registry.
func (a *App) Metrics() *metrics.Registry {
	return a.metrics
}

// Signal returns the process shutdown signal.
func (a *App) Signal() *lifecycle.Signal {
	return a.signal
}

// Telemetry returns the metrics exporter.
func (a *App) Telemetry() *server.Telemetry {
	return a.telemetry
}

// InFlight returns the number of backend calls executing across all providers.
func (a *App) InFlight() int {
	n := 0
	for _, adapter := range a.adapters {
		n += adapter.InFlight()
	}
	return n
}

// Start launches the metrics exporter and the resource sampler. Repeated
// calls return the already running sampler.
func (a *App) Start() (*sampler.Sampler, error) {
	return a.telemetry.Start()
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. Fire the shutdown signal and wait for the sampler loop to exit.
// 2. Drain and close every provider adapter, bounded by the configured
// shutdown timeout; calls still running at the deadline are cancelled.
// 3. Stop the metrics exporter last, so the final samples stay scrapeable
// while providers drain.
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	// 1. Stop sampling
	a.signal.Fire()
	if s := a.telemetry.Sampler(); s != nil {
		select {
		case <-s.Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("sampler stop: %w", ctx.Err()))
		}
	}

	// 2. Drain providers
	if err := a.closeAdapters(ctx); err != nil {
		slog.Error("providers close error", "error", err)
		errs = append(errs, fmt.Errorf("providers close: %w", err))
	}

	// 3. Stop the exporter
	if err := a.telemetry.Shutdown(ctx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// closeAdapters drains all adapters concurrently.
func (a *App) closeAdapters(ctx context.Context) error {
	timeout := a.config.Service.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for name, adapter := range a.adapters {
		g.Go(func() error {
			if _, err := adapter.Close(drainCtx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if len(a.names) == 0 {
		slog.Warn("no providers configured",
			"recommendation", "set one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GROQ_API_KEY, XAI_API_KEY, GEMINI_API_KEY")
	}
	for _, name := range a.names {
		adapter := a.adapters[name]
		slog.Info("provider ready",
			"provider", adapter.Provider(),
			"default_model", adapter.DefaultModel(),
			"agent_role", a.gateways[name].AgentRole(),
		)
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "port", cfg.Metrics.Port, "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}
}
