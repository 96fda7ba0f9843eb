package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"llmgate/internal/core"
	"llmgate/internal/inflight"
)

// ErrAdapterClosed is wrapped by errors returned from Invoke after Close.
var ErrAdapterClosed = errors.New("provider adapter is closed")

// Adapter binds one Backend to the invocation contract. It owns the backend
// connection and tracks every call currently executing through it.
type Adapter struct {
	name         string
	defaultModel string
	backend      core.Backend
	inflight     *inflight.Registry

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	stats  inflight.DrainStats
}

var _ core.Invoker = (*Adapter)(nil)

// NewAdapter wraps backend. name is trimmed and must not be empty.
func NewAdapter(name, defaultModel string, backend core.Backend) (*Adapter, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("provider name must not be empty")
	}
	if backend == nil {
		return nil, fmt.Errorf("provider %s: backend is nil", name)
	}
	return &Adapter{
		name:         name,
		defaultModel: strings.TrimSpace(defaultModel),
		backend:      backend,
		inflight:     inflight.NewRegistry(name),
	}, nil
}

// Provider returns the provider name used as the metrics label.
func (a *Adapter) Provider() string {
	return a.name
}

// DefaultModel returns the model used when a request names none.
func (a *Adapter) DefaultModel() string {
	return a.defaultModel
}

// InFlight returns the number of calls currently executing.
func (a *Adapter) InFlight() int {
	return a.inflight.Len()
}

// ResolveModel returns model, or the default model when model is blank.
func (a *Adapter) ResolveModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return a.defaultModel
}

// Invoke performs one backend call. The call is registered in the in-flight
// registry for exactly its own duration, and any failure leaves as a
// *core.GatewayError.
func (a *Adapter) Invoke(ctx context.Context, model string, params map[string]any) (resp any, err error) {
	model = a.ResolveModel(model)

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, core.NewConnectionError(a.name, "provider is shutting down", ErrAdapterClosed)
	}
	callCtx, h := a.inflight.Register(ctx)
	a.mu.RUnlock()

	defer func() {
		a.inflight.Release(h, err)
	}()

	resp, err = a.backend.Call(callCtx, model, params)
	if err != nil {
		return nil, a.normalize(model, err)
	}
	return resp, nil
}

// ExtractUsage delegates to the backend's usage accessor.
func (a *Adapter) ExtractUsage(resp any) (core.Usage, bool) {
	return a.backend.ExtractUsage(resp)
}

func (a *Adapter) normalize(model string, err error) *core.GatewayError {
	if gwErr := a.backend.NormalizeError(model, err); gwErr != nil {
		return gwErr.WithProvider(a.name)
	}
	return core.Normalize(a.name, err)
}

// Close stops accepting calls, waits for in-flight calls to finish, and only
// then closes the backend connection. When ctx is done before the drain
// completes, outstanding calls are cancelled and still awaited. Errors from
// draining calls are discarded. Repeated calls return the first result.
func (a *Adapter) Close(ctx context.Context) (inflight.DrainStats, error) {
	var closeErr error
	first := false
	a.once.Do(func() {
		first = true
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		a.stats = a.inflight.Drain(ctx)
		slog.Info("provider drained",
			"provider", a.name,
			"awaited", a.stats.Awaited,
			"failed", a.stats.Failed,
			"cancelled", a.stats.Cancelled,
			"duration", a.stats.Duration,
		)

		if err := a.backend.Close(); err != nil {
			closeErr = fmt.Errorf("close %s backend: %w", a.name, err)
		}
	})
	if !first {
		return a.stats, nil
	}
	return a.stats, closeErr
}
