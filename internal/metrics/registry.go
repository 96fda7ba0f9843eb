// Package metrics defines the Prometheus instruments recorded for every
// gateway call and by the system resource sampler.
//
// The registry is constructed explicitly and injected into gateways and the
// sampler, so tests can build a fresh one per case.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/puzpuzpuz/xsync/v4"

	"llmgate/internal/core"
)

// LatencyBuckets are the histogram bounds, in seconds, for LLM request latency.
var LatencyBuckets = []float64{0.1, 0.3, 0.5, 1, 2, 5, 10, 20, 30, 60}

const (
	labelProvider    = "provider"
	labelModel       = "model"
	labelAgentRole   = "agent_role"
	labelStatus      = "status"
	labelServiceName = "service_name"
	labelHostname    = "hostname"
)

// Registry owns every instrument. It only accumulates; the exporter reads it
// through Gatherer.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal *prometheus.CounterVec
	Latency       *prometheus.HistogramVec
	InputTokens   *prometheus.CounterVec
	OutputTokens  *prometheus.CounterVec
	TotalTokens   *prometheus.CounterVec

	// Declared for streaming calls; nothing observes them yet.
	TimeToFirstToken  *prometheus.HistogramVec
	InterTokenLatency *prometheus.HistogramVec

	CPUPercent    *prometheus.GaugeVec
	MemoryUsed    *prometheus.GaugeVec
	MemoryPercent *prometheus.GaugeVec
	RunningTasks  *prometheus.GaugeVec

	missingUsage *xsync.Map[string, struct{}]
}

// Options configures NewRegistry.
type Options struct {
	// RuntimeCollectors adds the Go runtime and process collectors
	RuntimeCollectors bool
}

// NewRegistry creates a registry backed by a fresh prometheus.Registry.
func NewRegistry(opts Options) *Registry {
	reg := prometheus.NewRegistry()
	if opts.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)
	llmLabels := []string{labelProvider, labelModel, labelAgentRole}
	sysLabels := []string{labelServiceName, labelHostname}

	return &Registry{
		reg: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total LLM requests",
		}, []string{labelProvider, labelModel, labelAgentRole, labelStatus}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request latency in seconds",
			Buckets: LatencyBuckets,
		}, []string{labelProvider, labelModel, labelAgentRole, labelStatus}),
		InputTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_prompt_total",
			Help: "Total input tokens",
		}, llmLabels),
		OutputTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_completion_total",
			Help: "Total output tokens",
		}, llmLabels),
		TotalTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens",
		}, llmLabels),
		TimeToFirstToken: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_ttft_seconds",
			Help:    "Time to first token",
			Buckets: LatencyBuckets,
		}, llmLabels),
		InterTokenLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_itl_seconds",
			Help:    "Inter-token latency",
			Buckets: LatencyBuckets,
		}, llmLabels),
		CPUPercent: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cpu_usage_percentage",
			Help: "CPU usage in percentage",
		}, sysLabels),
		MemoryUsed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "memory_usage_bytes",
			Help: "Memory usage in bytes",
		}, sysLabels),
		MemoryPercent: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "memory_usage_percentage",
			Help: "Memory usage in percentage",
		}, sysLabels),
		RunningTasks: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "running_tasks",
			Help: "Number of backend calls currently in flight",
		}, sysLabels),
		missingUsage: xsync.NewMap[string, struct{}](),
	}
}

// Gatherer exposes the underlying registry to the exporter and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Sample is one completed invocation. Usage is nil unless the call succeeded
// and usage could be extracted.
type Sample struct {
	Provider  string
	Model     string
	AgentRole string
	Status    core.Status
	Duration  time.Duration
	Usage     *core.Usage
}

// Record writes one sample: one request count, one latency observation and,
// when usage is present, the token counters.
func (r *Registry) Record(s Sample) {
	r.RequestsTotal.WithLabelValues(s.Provider, s.Model, s.AgentRole, string(s.Status)).Inc()
	r.Latency.WithLabelValues(s.Provider, s.Model, s.AgentRole, string(s.Status)).Observe(s.Duration.Seconds())

	if s.Usage == nil {
		return
	}
	u := core.NewUsage(s.Usage.InputTokens, s.Usage.OutputTokens)
	r.InputTokens.WithLabelValues(s.Provider, s.Model, s.AgentRole).Add(float64(u.InputTokens))
	r.OutputTokens.WithLabelValues(s.Provider, s.Model, s.AgentRole).Add(float64(u.OutputTokens))
	r.TotalTokens.WithLabelValues(s.Provider, s.Model, s.AgentRole).Add(float64(u.TotalTokens))
}

// FirstMissingUsage reports true exactly once per (provider, model), so the
// caller can warn about undetectable usage without flooding the log.
func (r *Registry) FirstMissingUsage(provider, model string) bool {
	_, loaded := r.missingUsage.LoadOrStore(provider+"\x00"+model, struct{}{})
	return !loaded
}

// SystemSample is one reading of the resource sampler.
type SystemSample struct {
	CPUPercent    float64
	MemoryUsed    uint64
	MemoryPercent float64
	RunningTasks  int
}

// RecordRunningTasks writes only the in-flight task gauge.
func (r *Registry) RecordRunningTasks(serviceName, hostname string, n int) {
	r.RunningTasks.WithLabelValues(serviceName, hostname).Set(float64(n))
}

// RecordSystem writes the resource gauges for one service instance.
func (r *Registry) RecordSystem(serviceName, hostname string, s SystemSample) {
	r.CPUPercent.WithLabelValues(serviceName, hostname).Set(s.CPUPercent)
	r.MemoryUsed.WithLabelValues(serviceName, hostname).Set(float64(s.MemoryUsed))
	r.MemoryPercent.WithLabelValues(serviceName, hostname).Set(s.MemoryPercent)
	r.RunningTasks.WithLabelValues(serviceName, hostname).Set(float64(s.RunningTasks))
}
