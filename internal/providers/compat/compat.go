// Package compat implements the backend shared by providers that speak the
// OpenAI chat-completions wire format over plain HTTP (Groq, xAI, Gemini).
// Responses are returned as the decoded JSON mapping.
package compat

import (
	"context"
	"errors"
	"net/http"

	"github.com/tidwall/gjson"

	"llmgate/internal/core"
	"llmgate/internal/llmclient"
	"llmgate/internal/providers"
	"llmgate/internal/usage"
)

// Backend implements core.Backend for an OpenAI-compatible endpoint
type Backend struct {
	name   string
	client *llmclient.Client
	apiKey string
}

var _ core.Backend = (*Backend)(nil)

// New creates a backend named provider. cfg.BaseURL overrides defaultBaseURL.
func New(provider, defaultBaseURL string, cfg providers.ProviderConfig, httpClient *http.Client) *Backend {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	lc := llmclient.DefaultConfig(provider, baseURL)
	lc.MaxRetries = cfg.Backend.MaxRetries
	if cfg.Backend.InitialBackoff > 0 {
		lc.InitialBackoff = cfg.Backend.InitialBackoff
	}
	if cfg.Backend.MaxBackoff > 0 {
		lc.MaxBackoff = cfg.Backend.MaxBackoff
	}

	b := &Backend{name: provider, apiKey: cfg.APIKey}
	b.client = llmclient.NewWithHTTPClient(httpClient, lc, b.setHeaders)
	return b
}

func (b *Backend) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
}

// Name returns the provider name
func (b *Backend) Name() string {
	return b.name
}

// BaseURL returns the endpoint requests are sent to.
func (b *Backend) BaseURL() string {
	return b.client.BaseURL()
}

// Call sends a chat completion request. params is forwarded as the request
// body with model set.
func (b *Backend) Call(ctx context.Context, model string, params map[string]any) (any, error) {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["model"] = model

	var resp map[string]any
	err := b.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ExtractUsage reads the usage object of a chat completion mapping.
func (b *Backend) ExtractUsage(resp any) (core.Usage, bool) {
	return usage.Extract(resp)
}

// NormalizeError maps llmclient failures to the gateway taxonomy.
func (b *Backend) NormalizeError(model string, err error) *core.GatewayError {
	var statusErr *llmclient.StatusError
	if errors.As(err, &statusErr) {
		return core.FromStatus(b.name, model, statusErr.StatusCode, errorMessage(statusErr.Body), err)
	}
	var transportErr *llmclient.TransportError
	if errors.As(err, &transportErr) || core.IsTransportError(err) {
		return core.NewConnectionError(b.name, err.Error(), err)
	}
	return core.NewUnknownError(b.name, err)
}

// Close releases pooled connections.
func (b *Backend) Close() error {
	b.client.Close()
	return nil
}

// errorMessage extracts the upstream message from an OpenAI-style error body.
func errorMessage(body []byte) string {
	for _, path := range []string{"error.message", "message", "error"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	if len(body) > 256 {
		return string(body[:256])
	}
	return string(body)
}
