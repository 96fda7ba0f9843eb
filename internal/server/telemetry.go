// Package server exposes the metrics registry over HTTP and owns the resource
// sampler that feeds it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llmgate/internal/lifecycle"
	"llmgate/internal/metrics"
	"llmgate/internal/sampler"
)

// TelemetryConfig holds exporter and sampler options
type TelemetryConfig struct {
	ServiceName string
	Hostname    string
	Enabled     bool   // Whether to serve the metrics endpoint
	Port        int    // 0 picks a free port
	Endpoint    string // HTTP path for metrics (default: /metrics)
	Interval    time.Duration
}

// Telemetry is the metrics exporter plus the system resource sampler. Both are
// started at most once per process.
type Telemetry struct {
	cfg      TelemetryConfig
	registry *metrics.Registry
	signal   *lifecycle.Signal
	opts     []sampler.Option
	echo     *echo.Echo

	mu        sync.Mutex
	sampler   *sampler.Sampler
	listener  net.Listener
	serveDone chan struct{}
	exporters atomic.Int32
}

// NewTelemetry builds the HTTP routes. Nothing listens until Start.
func NewTelemetry(cfg TelemetryConfig, reg *metrics.Registry, sig *lifecycle.Signal, opts ...sampler.Option) *Telemetry {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("telemetry request",
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	metricsPath := "/metrics"
	if cfg.Endpoint != "" {
		// Normalize path to prevent traversal attacks
		metricsPath = path.Clean("/" + cfg.Endpoint)
	}

	e.GET("/health", health)
	e.GET(metricsPath, echo.WrapHandler(promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})))

	return &Telemetry{
		cfg:      cfg,
		registry: reg,
		signal:   sig,
		opts:     opts,
		echo:     e,
	}
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Start launches the exporter (when enabled) and the sampler. It is safe to
// call concurrently; every call returns the same sampler and only the first
// one starts anything.
func (t *Telemetry) Start() (*sampler.Sampler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sampler != nil {
		return t.sampler, nil
	}

	if t.cfg.Enabled {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.cfg.Port))
		if err != nil {
			return nil, fmt.Errorf("failed to start metrics exporter: %w", err)
		}
		t.listener = ln
		t.echo.Listener = ln
		t.serveDone = make(chan struct{})
		t.exporters.Add(1)

		go func() {
			defer close(t.serveDone)
			if err := t.echo.Start(ln.Addr().String()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics exporter stopped", "error", err)
			}
		}()
		slog.Info("metrics exporter listening", "addr", ln.Addr().String())
	}

	s := sampler.New(sampler.Config{
		ServiceName: t.cfg.ServiceName,
		Hostname:    t.cfg.Hostname,
		Interval:    t.cfg.Interval,
	}, t.registry, t.opts...)
	s.Start(t.signal.Done())
	t.sampler = s

	return s, nil
}

// Sampler returns the running sampler, or nil before Start.
func (t *Telemetry) Sampler() *sampler.Sampler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampler
}

// Addr returns the exporter's listen address, or "" when it is not running.
func (t *Telemetry) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Shutdown stops the exporter. The sampler stops on its own once the shutdown
// signal fires.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	done := t.serveDone
	t.mu.Unlock()

	if done == nil {
		return nil
	}
	if err := t.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics exporter shutdown: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// ServeHTTP implements the http.Handler interface, allowing Telemetry to be used with httptest
func (t *Telemetry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.echo.ServeHTTP(w, r)
}
