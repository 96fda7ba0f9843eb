// Package sampler periodically records process-level resource usage (CPU,
// memory, in-flight call count) into the metrics registry until the shutdown
// signal fires.
package sampler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"llmgate/internal/metrics"
)

// MinInterval is the shortest sampling interval accepted by New.
const MinInterval = time.Second

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 5 * time.Second

// State of a sampler.
type State int32

const (
	StateIdle State = iota
	StateSampling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Probe reads CPU and memory usage. The default implementation uses gopsutil.
type Probe interface {
	Read(ctx context.Context) (metrics.SystemSample, error)
}

// Config configures a Sampler.
type Config struct {
	ServiceName string
	// Hostname defaults to $HOSTNAME, then os.Hostname()
	Hostname string
	Interval time.Duration
}

// Sampler is the periodic resource sampling loop.
type Sampler struct {
	cfg      Config
	registry *metrics.Registry
	probe    Probe
	tasks    func() int

	state   atomic.Int32
	done    chan struct{}
	samples atomic.Int64
	once    sync.Once
}

// Option customizes a Sampler.
type Option func(*Sampler)

// WithProbe replaces the gopsutil probe.
func WithProbe(p Probe) Option {
	return func(s *Sampler) { s.probe = p }
}

// WithTaskCounter sets the function that reports the running task count,
// typically the in-flight registries' total size.
func WithTaskCounter(fn func() int) Option {
	return func(s *Sampler) { s.tasks = fn }
}

// New creates an idle sampler. Intervals below MinInterval are raised to it.
func New(cfg Config, registry *metrics.Registry, opts ...Option) *Sampler {
	return newSampler(cfg, registry, MinInterval, opts...)
}

func newSampler(cfg Config, registry *metrics.Registry, minInterval time.Duration, opts ...Option) *Sampler {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < minInterval {
		cfg.Interval = minInterval
	}
	if cfg.Hostname == "" {
		cfg.Hostname = Hostname()
	}
	s := &Sampler{
		cfg:      cfg,
		registry: registry,
		probe:    gopsutilProbe{},
		tasks:    func() int { return 0 },
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hostname returns the host identifier used as a metric label.
func Hostname() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// Start launches the sampling loop in a goroutine. Only the first call has an
// effect; later calls return immediately.
func (s *Sampler) Start(stop <-chan struct{}) {
	s.once.Do(func() {
		s.state.Store(int32(StateSampling))
		go s.run(stop)
	})
}

// Done is closed once the loop has exited.
func (s *Sampler) Done() <-chan struct{} {
	return s.done
}

// State returns the current state.
func (s *Sampler) State() State {
	return State(s.state.Load())
}

// Samples returns how many samples have been written.
func (s *Sampler) Samples() int64 {
	return s.samples.Load()
}

// Interval returns the effective sampling interval.
func (s *Sampler) Interval() time.Duration {
	return s.cfg.Interval
}

func (s *Sampler) run(stop <-chan struct{}) {
	defer close(s.done)
	defer s.state.Store(int32(StateStopped))

	slog.Info("started collecting system metrics",
		"service", s.cfg.ServiceName,
		"hostname", s.cfg.Hostname,
		"interval", s.cfg.Interval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			slog.Info("stopped system metrics collection", "service", s.cfg.ServiceName)
			return
		default:
		}

		s.sample(ctx)

		select {
		case <-stop:
			slog.Info("stopped system metrics collection", "service", s.cfg.ServiceName)
			return
		case <-ticker.C:
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	reading, err := s.probe.Read(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		// Resource gauges keep their last good reading.
		slog.Debug("system metrics probe failed", "error", err)
		s.registry.RecordRunningTasks(s.cfg.ServiceName, s.cfg.Hostname, s.tasks())
		s.samples.Add(1)
		return
	}
	reading.RunningTasks = s.tasks()
	s.registry.RecordSystem(s.cfg.ServiceName, s.cfg.Hostname, reading)
	s.samples.Add(1)
}

type gopsutilProbe struct{}

func (gopsutilProbe) Read(ctx context.Context) (metrics.SystemSample, error) {
	var out metrics.SystemSample

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return out, err
	}
	if len(percents) > 0 {
		out.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return out, err
	}
	out.MemoryUsed = vm.Used
	out.MemoryPercent = vm.UsedPercent
	return out, nil
}
