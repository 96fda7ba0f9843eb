// Package openai provides OpenAI API integration for the LLM gateway.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"llmgate/internal/core"
	"llmgate/internal/httpclient"
	"llmgate/internal/providers"
	"llmgate/internal/usage"
)

const (
	providerName = "openai"

	// DefaultModel is used when neither config nor request names a model
	DefaultModel = "gpt-4o-mini"
)

// Registration provides factory registration for the OpenAI provider.
var Registration = providers.Registration{
	Type:         providerName,
	DefaultModel: DefaultModel,
	New:          New,
}

// Backend implements core.Backend on top of the official OpenAI SDK
type Backend struct {
	client     openai.Client
	httpClient *http.Client
}

var _ core.Backend = (*Backend)(nil)

// New creates an OpenAI backend from resolved provider configuration.
func New(cfg providers.ProviderConfig) (core.Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	clientCfg := httpclient.FromBackend(cfg.Backend)
	return NewWithHTTPClient(cfg, httpclient.NewHTTPClient(&clientCfg)), nil
}

// NewWithHTTPClient creates an OpenAI backend with a custom HTTP client.
func NewWithHTTPClient(cfg providers.ProviderConfig, httpClient *http.Client) *Backend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.Backend.MaxRetries),
	}
	if cfg.Backend.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Backend.Timeout))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Backend{
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
	}
}

// Name returns the provider name
func (b *Backend) Name() string {
	return providerName
}

// Call sends a chat completion request. Every entry of params is set on the
// request body as-is, after o-series parameter adaptation.
func (b *Backend) Call(ctx context.Context, model string, params map[string]any) (any, error) {
	body := adaptParams(model, params)

	opts := make([]option.RequestOption, 0, len(body)+1)
	for k, v := range body {
		opts = append(opts, option.WithJSONSet(k, v))
	}
	// OpenAI requires ASCII-only client request IDs of at most 512 bytes, otherwise returns 400.
	if requestID := core.GetRequestID(ctx); requestID != "" && isValidClientRequestID(requestID) {
		opts = append(opts, option.WithHeader("X-Client-Request-Id", requestID))
	}

	completion, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
	}, opts...)
	if err != nil {
		return nil, err
	}
	return completion, nil
}

// ExtractUsage reads usage from a *openai.ChatCompletion or any shape
// understood by usage.Extract.
func (b *Backend) ExtractUsage(resp any) (core.Usage, bool) {
	completion, ok := resp.(*openai.ChatCompletion)
	if !ok {
		return usage.Extract(resp)
	}
	if completion == nil {
		return core.Usage{}, false
	}
	if u, ok := usage.FromJSON([]byte(completion.RawJSON())); ok {
		return u, true
	}
	if completion.Usage.PromptTokens == 0 && completion.Usage.CompletionTokens == 0 {
		return core.Usage{}, false
	}
	return core.NewUsage(int(completion.Usage.PromptTokens), int(completion.Usage.CompletionTokens)), true
}

// NormalizeError maps SDK failures to the gateway taxonomy.
func (b *Backend) NormalizeError(model string, err error) *core.GatewayError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return core.FromStatus(providerName, model, apiErr.StatusCode, errorMessage(apiErr.RawJSON(), err), err)
	}
	if core.IsTransportError(err) {
		return core.NewConnectionError(providerName, err.Error(), err)
	}
	return core.NewUnknownError(providerName, err)
}

// Close releases pooled connections.
func (b *Backend) Close() error {
	httpclient.CloseIdle(b.httpClient)
	return nil
}

// adaptParams copies params without "model". For o-series models max_tokens
// becomes max_completion_tokens and temperature is dropped.
func adaptParams(model string, params map[string]any) map[string]any {
	body := make(map[string]any, len(params))
	for k, v := range params {
		if k == "model" {
			continue
		}
		body[k] = v
	}
	if !isOSeriesModel(model) {
		return body
	}
	if v, ok := body["max_tokens"]; ok {
		delete(body, "max_tokens")
		if _, exists := body["max_completion_tokens"]; !exists {
			body["max_completion_tokens"] = v
		}
	}
	delete(body, "temperature")
	return body
}

// isOSeriesModel reports whether the model is an OpenAI o-series model
// (o1, o3, o4) that requires max_completion_tokens instead of max_tokens
// and does not support the temperature parameter.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

// isValidClientRequestID checks if the request ID is valid for OpenAI's X-Client-Request-Id header.
func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

func errorMessage(raw string, err error) string {
	for _, path := range []string{"error.message", "message"} {
		if r := gjson.Get(raw, path); r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return err.Error()
}
