// Package lifecycle holds the process-wide shutdown signal observed by the
// resource sampler and the drain protocol.
package lifecycle

import (
	"context"
	"sync"
)

// Signal is a monotonic, fire-once event. Once fired it is never reset.
// The zero value is not usable; use NewSignal.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire sets the signal. Repeated calls are no-ops.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.done) })
}

// Done returns a channel that is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Fired reports whether the signal has been set.
func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// FireOnDone fires the signal when ctx is done, e.g. a signal.NotifyContext.
// The returned stop function releases the watcher without firing.
func (s *Signal) FireOnDone(ctx context.Context) (stop func()) {
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-stopCh:
				return
			default:
			}
			s.Fire()
		case <-stopCh:
		case <-s.done:
		}
	}()
	return func() { stopOnce.Do(func() { close(stopCh) }) }
}
