// Package gateway is the invocation boundary between application code and the
// provider adapters. Every call through a Gateway is timed, traced and
// recorded into the metrics registry exactly once, whatever its outcome.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"llmgate/internal/core"
	"llmgate/internal/metrics"
)

const (
	tracerName = "llmgate/gateway"
	spanName   = "llm.generate"
)

// Gateway wraps one provider adapter.
type Gateway struct {
	invoker   core.Invoker
	metrics   *metrics.Registry
	tracer    trace.Tracer
	agentRole string
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithTracerProvider sets the tracer provider. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) { g.tracer = tp.Tracer(tracerName) }
}

// WithAgentRole sets the role label used when a request names none.
func WithAgentRole(role string) Option {
	return func(g *Gateway) { g.agentRole = strings.TrimSpace(role) }
}

// New creates a gateway over invoker recording into reg.
func New(invoker core.Invoker, reg *metrics.Registry, opts ...Option) (*Gateway, error) {
	if invoker == nil {
		return nil, fmt.Errorf("gateway: invoker is nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("gateway: metrics registry is nil")
	}
	g := &Gateway{
		invoker: invoker,
		metrics: reg,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.agentRole == "" {
		g.agentRole = core.DefaultAgentRole
	}
	return g, nil
}

// Provider returns the provider name of the wrapped adapter.
func (g *Gateway) Provider() string {
	return g.invoker.Provider()
}

// AgentRole returns the default agent role label.
func (g *Gateway) AgentRole() string {
	return g.agentRole
}

// Generate invokes the provider. Empty model and agentRole fall back to the
// adapter's default model and the gateway's role.
func (g *Gateway) Generate(ctx context.Context, model string, params map[string]any, agentRole string) (*core.Result, error) {
	return g.Do(ctx, core.Request{Model: model, Params: params, AgentRole: agentRole})
}

// Do is Generate taking a Request. Errors are always *core.GatewayError and are
// returned unchanged after being recorded. A panic inside the adapter is
// recorded as an error and then re-raised. A call whose ctx is done by the
// time the adapter returns fails with KindConnectionFailed even when the
// backend produced a response.
func (g *Gateway) Do(ctx context.Context, req core.Request) (result *core.Result, err error) {
	provider := g.invoker.Provider()
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.invoker.DefaultModel()
	}
	role := strings.TrimSpace(req.AgentRole)
	if role == "" {
		role = g.agentRole
	}

	ctx, requestID := core.EnsureRequestID(ctx)
	ctx, span := g.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.String("llm.agent_role", role),
			attribute.String("request.id", requestID),
		),
	)

	var usage *core.Usage
	start := time.Now()

	defer func() {
		recovered := recover()
		elapsed := time.Since(start)

		status := core.StatusSuccess
		if recovered != nil || err != nil {
			status = core.StatusError
		}
		g.metrics.Record(metrics.Sample{
			Provider:  provider,
			Model:     model,
			AgentRole: role,
			Status:    status,
			Duration:  elapsed,
			Usage:     usage,
		})

		switch {
		case recovered != nil:
			span.SetStatus(codes.Error, fmt.Sprint(recovered))
			slog.Error("llm call panicked",
				"request_id", requestID,
				"provider", provider,
				"model", model,
				"panic", recovered,
			)
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, string(core.KindOf(err)))
			span.SetAttributes(attribute.String("llm.error_kind", string(core.KindOf(err))))
			slog.Warn("llm call failed",
				"request_id", requestID,
				"provider", provider,
				"model", model,
				"agent_role", role,
				"duration", elapsed,
				"error", err,
			)
		default:
			span.SetAttributes(
				attribute.Int("llm.tokens.input", usage.InputTokens),
				attribute.Int("llm.tokens.output", usage.OutputTokens),
				attribute.Int("llm.tokens.total", usage.TotalTokens),
			)
			slog.Debug("llm call completed",
				"request_id", requestID,
				"provider", provider,
				"model", model,
				"agent_role", role,
				"duration", elapsed,
				"total_tokens", usage.TotalTokens,
			)
		}
		span.End()

		if recovered != nil {
			panic(recovered)
		}
	}()

	resp, err := g.invoker.Invoke(ctx, model, req.Params)
	if err != nil {
		return nil, err
	}
	// A response that raced the caller's cancellation is discarded.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, core.NewConnectionError(provider, "call cancelled: "+ctxErr.Error(), ctxErr)
	}

	u, ok := g.invoker.ExtractUsage(resp)
	if !ok {
		u = core.Usage{}
		if g.metrics.FirstMissingUsage(provider, model) {
			slog.Warn("could not detect token usage in response, recording zero tokens",
				"provider", provider,
				"model", model,
			)
		}
	}
	usage = &u

	return &core.Result{
		Provider: provider,
		Model:    model,
		Response: resp,
		Usage:    u,
		Latency:  time.Since(start),
	}, nil
}
