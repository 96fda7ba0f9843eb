// Package xai provides xAI (Grok) API integration for the LLM gateway.
package xai

import (
	"fmt"
	"net/http"

	"llmgate/internal/core"
	"llmgate/internal/httpclient"
	"llmgate/internal/providers"
	"llmgate/internal/providers/compat"
)

const (
	providerName = "xai"

	// DefaultBaseURL is the xAI OpenAI-compatible endpoint
	DefaultBaseURL = "https://api.x.ai/v1"
	// DefaultModel is used when neither config nor request names a model
	DefaultModel = "grok-3-mini"
)

// Registration provides factory registration for the xAI provider.
var Registration = providers.Registration{
	Type:         providerName,
	DefaultModel: DefaultModel,
	New:          New,
}

// New creates an xAI backend from resolved provider configuration.
func New(cfg providers.ProviderConfig) (core.Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("xai: api key is required")
	}
	clientCfg := httpclient.FromBackend(cfg.Backend)
	return NewWithHTTPClient(cfg, httpclient.NewHTTPClient(&clientCfg)), nil
}

// NewWithHTTPClient creates an xAI backend with a custom HTTP client.
func NewWithHTTPClient(cfg providers.ProviderConfig, httpClient *http.Client) *compat.Backend {
	return compat.New(providerName, DefaultBaseURL, cfg, httpClient)
}
