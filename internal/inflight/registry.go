// Package inflight tracks backend calls that are currently executing so that
// a provider connection is never closed underneath them.
//
// Every call registers a Handle immediately before the backend round trip and
// releases it unconditionally afterwards (defer). Drain blocks until the set is
// empty; calls still running when the drain deadline passes are cancelled
// through their per-call context and then awaited.
package inflight

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Handle is an opaque token for one executing call.
type Handle struct {
	id       uint64
	started  time.Time
	cancel   context.CancelFunc
	released atomic.Bool
}

// ID returns the handle's identifier, unique within its registry.
func (h *Handle) ID() uint64 {
	return h.id
}

// Started returns when the call was registered.
func (h *Handle) Started() time.Time {
	return h.started
}

// DrainStats summarizes one Drain call.
type DrainStats struct {
	// Awaited is the number of calls in flight when the drain started
	Awaited int
	// Failed counts calls that finished with an error while draining; the errors are discarded
	Failed int
	// Cancelled counts calls cancelled because the drain deadline passed
	Cancelled int
	Duration  time.Duration
}

// Registry is a concurrent set of in-flight handles.
type Registry struct {
	name    string
	handles *xsync.Map[uint64, *Handle]
	nextID  atomic.Uint64

	mu       sync.Mutex
	count    int
	idle     chan struct{} // closed while count == 0
	draining bool
	failed   int
}

// NewRegistry creates an empty registry. name is used in log lines only.
func NewRegistry(name string) *Registry {
	idle := make(chan struct{})
	close(idle)
	return &Registry{
		name:    name,
		handles: xsync.NewMap[uint64, *Handle](),
		idle:    idle,
	}
}

// Register adds a handle for a call about to start. The returned context is
// derived from ctx and is cancelled when the handle is released or when a
// drain deadline forces outstanding calls to stop.
func (r *Registry) Register(ctx context.Context) (context.Context, *Handle) {
	callCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:      r.nextID.Add(1),
		started: time.Now(),
		cancel:  cancel,
	}

	r.mu.Lock()
	if r.count == 0 {
		r.idle = make(chan struct{})
	}
	r.count++
	r.handles.Store(h.id, h)
	r.mu.Unlock()

	return callCtx, h
}

// Release removes h from the registry. err is the call's outcome; errors that
// arrive while a drain is in progress are counted and discarded. Releasing the
// same handle twice is a no-op.
func (r *Registry) Release(h *Handle, err error) {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles.Delete(h.id)
	r.count--
	if r.draining && err != nil {
		r.failed++
		slog.Debug("in-flight call failed during drain",
			"registry", r.name,
			"handle", h.id,
			"error", err,
		)
	}
	if r.count == 0 {
		close(r.idle)
	}
}

// Len returns the number of calls currently in flight.
func (r *Registry) Len() int {
	return r.handles.Size()
}

// Drain blocks until the registry is empty. If ctx is done first, every
// outstanding call is cancelled and Drain keeps waiting for them to release.
// Drain never returns an error: failures of draining calls are only counted.
func (r *Registry) Drain(ctx context.Context) DrainStats {
	start := time.Now()

	r.mu.Lock()
	stats := DrainStats{Awaited: r.count}
	r.draining = true
	r.failed = 0
	idle := r.idle
	r.mu.Unlock()

	if stats.Awaited > 0 {
		slog.Info("waiting for in-flight calls", "registry", r.name, "count", stats.Awaited)
	}

	select {
	case <-idle:
	case <-ctx.Done():
		stats.Cancelled = r.cancelAll()
		slog.Warn("drain deadline reached, cancelled in-flight calls",
			"registry", r.name,
			"cancelled", stats.Cancelled,
		)
		<-idle
	}

	r.mu.Lock()
	stats.Failed = r.failed
	r.draining = false
	r.mu.Unlock()

	stats.Duration = time.Since(start)
	return stats
}

func (r *Registry) cancelAll() int {
	n := 0
	r.handles.Range(func(_ uint64, h *Handle) bool {
		h.cancel()
		n++
		return true
	})
	return n
}
