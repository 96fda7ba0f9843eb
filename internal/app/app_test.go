package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/config"
	"llmgate/internal/core"
	"llmgate/internal/metrics"
	"llmgate/internal/providers"
	"llmgate/internal/sampler"
)

// blockingBackend holds every call until release is closed or the call
// context ends, and records the moment it was closed.
type blockingBackend struct {
	name     string
	release  chan struct{}
	started  chan struct{}
	closeErr error

	startOnce  sync.Once
	closed     atomic.Bool
	closedBusy atomic.Bool
	inCall     atomic.Int32
}

func newBlockingBackend(name string) *blockingBackend {
	return &blockingBackend{
		name:    name,
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
}

func (b *blockingBackend) Name() string { return b.name }

func (b *blockingBackend) Call(ctx context.Context, model string, params map[string]any) (any, error) {
	b.inCall.Add(1)
	defer b.inCall.Add(-1)
	b.startOnce.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return map[string]any{"usage": map[string]any{"input_tokens": 1, "output_tokens": 1}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingBackend) ExtractUsage(resp any) (core.Usage, bool) {
	return core.NewUsage(1, 1), true
}

func (b *blockingBackend) NormalizeError(model string, err error) *core.GatewayError {
	if core.IsTransportError(err) {
		return core.NewConnectionError(b.name, err.Error(), err)
	}
	return core.Normalize(b.name, err)
}

func (b *blockingBackend) Close() error {
	if b.inCall.Load() > 0 {
		b.closedBusy.Store(true)
	}
	b.closed.Store(true)
	return b.closeErr
}

type zeroProbe struct{}

func (zeroProbe) Read(context.Context) (metrics.SystemSample, error) {
	return metrics.SystemSample{}, nil
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, prefix := range []string{"OPENAI", "ANTHROPIC", "GROQ", "XAI", "GEMINI"} {
		for _, suffix := range []string{"API_KEY", "BASE_URL", "MODEL", "AGENT_ROLE", "TIMEOUT", "CONNECT_TIMEOUT", "MAX_RETRIES"} {
			t.Setenv(prefix+"_"+suffix, "")
		}
	}
}

func testAppConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{Name: "llmgate-test", ShutdownTimeout: 2 * time.Second},
		Metrics: config.MetricsConfig{Enabled: false, Interval: time.Second},
		Backend: config.DefaultBackendConfig(),
		Providers: map[string]config.RawProviderConfig{
			"groq":    {Type: "fake", APIKey: "k1", AgentRole: "planner"},
			"backup":  {Type: "fake", APIKey: "k2", Model: "custom-model"},
			"missing": {Type: "fake", APIKey: "${MISSING_KEY}"},
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, backends map[string]*blockingBackend) *App {
	t.Helper()
	clearProviderEnv(t)

	factory := providers.NewProviderFactory()
	factory.Add(providers.Registration{
		Type:         "fake",
		DefaultModel: "fake-default",
		New: func(pc providers.ProviderConfig) (core.Backend, error) {
			b := newBlockingBackend(pc.Name)
			backends[pc.Name] = b
			return b, nil
		},
	})

	a, err := New(context.Background(), Config{AppConfig: cfg, Factory: factory, Probe: zeroProbe{}})
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{Factory: providers.NewProviderFactory()})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{AppConfig: testAppConfig()})
	assert.Error(t, err)
}

func TestNew_BuildsGatewayPerProvider(t *testing.T) {
	backends := map[string]*blockingBackend{}
	a := newTestApp(t, testAppConfig(), backends)
	defer func() { _ = a.Shutdown(context.Background()) }()

	assert.Equal(t, []string{"backup", "groq"}, a.Providers())

	gw, err := a.Gateway("groq")
	require.NoError(t, err)
	assert.Equal(t, "groq", gw.Provider())
	assert.Equal(t, "planner", gw.AgentRole())

	backup, err := a.Gateway("backup")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultAgentRole, backup.AgentRole())

	_, err = a.Gateway("missing")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNew_UnknownProviderType(t *testing.T) {
	clearProviderEnv(t)
	cfg := testAppConfig()
	cfg.Providers = map[string]config.RawProviderConfig{"x": {Type: "nope", APIKey: "k"}}

	_, err := New(context.Background(), Config{AppConfig: cfg, Factory: providers.NewProviderFactory()})
	assert.ErrorContains(t, err, "unknown provider type")
}

func TestShutdown_DrainsBeforeClosingBackends(t *testing.T) {
	backends := map[string]*blockingBackend{}
	a := newTestApp(t, testAppConfig(), backends)
	s, err := a.Start()
	require.NoError(t, err)

	gw, err := a.Gateway("groq")
	require.NoError(t, err)

	callDone := make(chan error, 1)
	go func() {
		_, err := gw.Generate(context.Background(), "", nil, "")
		callDone <- err
	}()
	<-backends["groq"].started
	assert.Equal(t, 1, a.InFlight())

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- a.Shutdown(context.Background()) }()

	require.Eventually(t, a.Signal().Fired, time.Second, 5*time.Millisecond)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sampler did not stop")
	}
	assert.Equal(t, sampler.StateStopped, s.State())
	assert.False(t, backends["groq"].closed.Load(), "backend closed while a call is in flight")

	close(backends["groq"].release)

	require.NoError(t, <-callDone)
	require.NoError(t, <-shutdownDone)
	assert.True(t, backends["groq"].closed.Load())
	assert.True(t, backends["backup"].closed.Load())
	assert.False(t, backends["groq"].closedBusy.Load())
	assert.Equal(t, 0, a.InFlight())

	succeeded := testutil.ToFloat64(a.Metrics().RequestsTotal.WithLabelValues("groq", "fake-default", "planner", "success"))
	assert.Equal(t, 1.0, succeeded)

	assert.NoError(t, a.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestShutdown_CancelsCallsAfterTimeout(t *testing.T) {
	cfg := testAppConfig()
	cfg.Service.ShutdownTimeout = 50 * time.Millisecond
	backends := map[string]*blockingBackend{}
	a := newTestApp(t, cfg, backends)

	gw, err := a.Gateway("backup")
	require.NoError(t, err)

	callDone := make(chan error, 1)
	go func() {
		_, err := gw.Generate(context.Background(), "", nil, "")
		callDone <- err
	}()
	<-backends["backup"].started

	require.NoError(t, a.Shutdown(context.Background()), "errors of drained calls are not surfaced")

	err = <-callDone
	assert.Equal(t, core.KindConnectionFailed, core.KindOf(err))
	assert.True(t, backends["backup"].closed.Load())
	assert.False(t, backends["backup"].closedBusy.Load())

	failed := testutil.ToFloat64(a.Metrics().RequestsTotal.WithLabelValues("backup", "custom-model", core.DefaultAgentRole, "error"))
	assert.Equal(t, 1.0, failed)
}

func TestShutdown_JoinsBackendCloseErrors(t *testing.T) {
	clearProviderEnv(t)
	boom := errors.New("socket already gone")

	factory := providers.NewProviderFactory()
	factory.Add(providers.Registration{
		Type: "fake",
		New: func(pc providers.ProviderConfig) (core.Backend, error) {
			b := newBlockingBackend(pc.Name)
			b.closeErr = boom
			return b, nil
		},
	})
	a, err := New(context.Background(), Config{AppConfig: testAppConfig(), Factory: factory, Probe: zeroProbe{}})
	require.NoError(t, err)

	err = a.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "groq")
	assert.ErrorContains(t, err, "backup")
}

func TestShutdown_RejectsCallsAfterClose(t *testing.T) {
	backends := map[string]*blockingBackend{}
	a := newTestApp(t, testAppConfig(), backends)
	require.NoError(t, a.Shutdown(context.Background()))

	gw, err := a.Gateway("groq")
	require.NoError(t, err)
	_, err = gw.Generate(context.Background(), "", nil, "")
	assert.ErrorIs(t, err, providers.ErrAdapterClosed)
}
