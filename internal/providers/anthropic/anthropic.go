// Package anthropic provides Anthropic API integration for the LLM gateway.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"llmgate/internal/core"
	"llmgate/internal/httpclient"
	"llmgate/internal/providers"
	"llmgate/internal/usage"
)

const (
	providerName = "anthropic"

	// DefaultModel is used when neither config nor request names a model
	DefaultModel = "claude-3-5-haiku-latest"
)

// Registration provides factory registration for the Anthropic provider.
var Registration = providers.Registration{
	Type:         providerName,
	DefaultModel: DefaultModel,
	New:          New,
}

// Backend implements core.Backend on top of the official Anthropic SDK
type Backend struct {
	client     anthropic.Client
	httpClient *http.Client
}

var _ core.Backend = (*Backend)(nil)

// New creates an Anthropic backend from resolved provider configuration.
func New(cfg providers.ProviderConfig) (core.Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	clientCfg := httpclient.FromBackend(cfg.Backend)
	return NewWithHTTPClient(cfg, httpclient.NewHTTPClient(&clientCfg)), nil
}

// NewWithHTTPClient creates an Anthropic backend with a custom HTTP client.
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
		client:     anthropic.NewClient(opts...),
		httpClient: httpClient,
	}
}

// Name returns the provider name
func (b *Backend) Name() string {
	return providerName
}

// Call sends a messages request. max_tokens is required; system-role entries
// of messages are lifted into the top-level system prompt.
func (b *Backend) Call(ctx context.Context, model string, params map[string]any) (any, error) {
	body, maxTokens, err := prepareParams(params)
	if err != nil {
		return nil, core.NewInvalidRequestError(providerName, model, err.Error(), err)
	}

	opts := make([]option.RequestOption, 0, len(body)+1)
	for k, v := range body {
		opts = append(opts, option.WithJSONSet(k, v))
	}
	if requestID := core.GetRequestID(ctx); requestID != "" {
		opts = append(opts, option.WithHeader("X-Request-ID", requestID))
	}

	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ExtractUsage reads usage from a *anthropic.Message or any shape understood
// by usage.Extract.
func (b *Backend) ExtractUsage(resp any) (core.Usage, bool) {
	msg, ok := resp.(*anthropic.Message)
	if !ok {
		return usage.Extract(resp)
	}
	if msg == nil {
		return core.Usage{}, false
	}
	if u, ok := usage.FromJSON([]byte(msg.RawJSON())); ok {
		return u, true
	}
	if msg.Usage.InputTokens == 0 && msg.Usage.OutputTokens == 0 {
		return core.Usage{}, false
	}
	return core.NewUsage(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)), true
}

// NormalizeError maps SDK failures to the gateway taxonomy.
func (b *Backend) NormalizeError(model string, err error) *core.GatewayError {
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	var apiErr *anthropic.Error
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

// prepareParams validates params and returns the body overrides without
// "model" and "max_tokens".
func prepareParams(params map[string]any) (map[string]any, int64, error) {
	maxTokens, ok := toInt64(params["max_tokens"])
	if !ok || maxTokens <= 0 {
		return nil, 0, errors.New("max_tokens is required and must be a positive integer")
	}

	body := make(map[string]any, len(params))
	for k, v := range params {
		if k == "model" || k == "max_tokens" {
			continue
		}
		body[k] = v
	}

	raw, ok := body["messages"]
	if !ok {
		return nil, 0, errors.New("messages is required")
	}
	messages, ok := messageList(raw)
	if !ok {
		return nil, 0, errors.New("messages must be a list of objects")
	}

	var system []string
	if s, ok := body["system"].(string); ok && s != "" {
		system = append(system, s)
	}
	conversation := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		if role, _ := m["role"].(string); role == "system" {
			if content, ok := m["content"].(string); ok && content != "" {
				system = append(system, content)
			}
			continue
		}
		conversation = append(conversation, m)
	}
	body["messages"] = conversation
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}
	return body, maxTokens, nil
}

// messageList accepts the common Go shapes of a message list.
func messageList(v any) ([]map[string]any, bool) {
	switch list := v.(type) {
	case []map[string]any:
		return list, true
	case []map[string]string:
		out := make([]map[string]any, len(list))
		for i, m := range list {
			out[i] = make(map[string]any, len(m))
			for k, val := range m {
				out[i][k] = val
			}
		}
		return out, true
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func errorMessage(raw string, err error) string {
	for _, path := range []string{"error.message", "message"} {
		if r := gjson.Get(raw, path); r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return err.Error()
}
