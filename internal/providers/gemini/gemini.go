// Package gemini provides Google Gemini integration for the LLM gateway
// through Gemini's OpenAI-compatible endpoint.
package gemini

import (
	"fmt"
	"net/http"

	"llmgate/internal/core"
	"llmgate/internal/httpclient"
	"llmgate/internal/providers"
	"llmgate/internal/providers/compat"
)

const (
	providerName = "gemini"

	// DefaultBaseURL is the Gemini OpenAI-compatible endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	// DefaultModel is used when neither config nor request names a model
	DefaultModel = "gemini-2.0-flash"
)

// Registration provides factory registration for the Gemini provider.
var Registration = providers.Registration{
	Type:         providerName,
	DefaultModel: DefaultModel,
	New:          New,
}

// New creates a Gemini backend from resolved provider configuration.
func New(cfg providers.ProviderConfig) (core.Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	clientCfg := httpclient.FromBackend(cfg.Backend)
	return NewWithHTTPClient(cfg, httpclient.NewHTTPClient(&clientCfg)), nil
}

// NewWithHTTPClient creates a Gemini backend with a custom HTTP client.
func NewWithHTTPClient(cfg providers.ProviderConfig, httpClient *http.Client) *compat.Backend {
	return compat.New(providerName, DefaultBaseURL, cfg, httpClient)
}
