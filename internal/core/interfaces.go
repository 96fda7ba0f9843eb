// Package core defines the core interfaces and types for the LLM gateway.
package core

import "context"

// Backend is the provider-specific part of an adapter. Each LLM backend
// supplies only these hooks; timing, in-flight bookkeeping and metrics are
// shared.
type Backend interface {
	// Name returns the provider name used as the metrics label
	Name() string

	// Call performs one round trip to the backend and returns its raw response.
	// Parameter shape validation specific to the backend happens here.
	Call(ctx context.Context, model string, params map[string]any) (any, error)

	// ExtractUsage reads token usage from a response returned by Call.
	// ok is false when the response carries no recognizable usage.
	ExtractUsage(resp any) (usage Usage, ok bool)

	// NormalizeError maps a native failure from Call into the gateway taxonomy
	NormalizeError(model string, err error) *GatewayError

	// Close releases the backend connection
	Close() error
}

// Invoker is implemented by provider adapters and consumed by the gateway.
type Invoker interface {
	Provider() string
	DefaultModel() string
	Invoke(ctx context.Context, model string, params map[string]any) (any, error)
	ExtractUsage(resp any) (Usage, bool)
}
