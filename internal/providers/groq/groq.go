// Package groq provides Groq API integration for the LLM gateway.
package groq

import (
	"fmt"
	"net/http"

	"llmgate/internal/core"
	"llmgate/internal/httpclient"
	"llmgate/internal/providers"
	"llmgate/internal/providers/compat"
)

const (
	providerName = "groq"

	// DefaultBaseURL is the Groq OpenAI-compatible endpoint
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// DefaultModel is used when neither config nor request names a model
	DefaultModel = "llama-3.3-70b-versatile"
)

// Registration provides factory registration for the Groq provider.
var Registration = providers.Registration{
	Type:         providerName,
	DefaultModel: DefaultModel,
	New:          New,
}

// New creates a Groq backend from resolved provider configuration.
func New(cfg providers.ProviderConfig) (core.Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("groq: api key is required")
	}
	clientCfg := httpclient.FromBackend(cfg.Backend)
	return NewWithHTTPClient(cfg, httpclient.NewHTTPClient(&clientCfg)), nil
}

// NewWithHTTPClient creates a Groq backend with a custom HTTP client.
func NewWithHTTPClient(cfg providers.ProviderConfig, httpClient *http.Client) *compat.Backend {
	return compat.New(providerName, DefaultBaseURL, cfg, httpClient)
}
