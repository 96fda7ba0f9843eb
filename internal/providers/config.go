package providers

import (
	"os"
	"strconv"
	"strings"

	"llmgate/config"
)

// ProviderConfig holds the fully resolved provider configuration after merging
// global defaults with per-provider overrides.
type ProviderConfig struct {
	Name      string
	Type      string
	APIKey    string
	BaseURL   string
	Model     string
	AgentRole string
	Backend   config.BackendConfig
}

// knownProviderEnvs maps well-known provider names to their environment variable
// prefix. This list is the authoritative source for provider auto-discovery.
var knownProviderEnvs = []struct {
	name         string
	providerType string
	prefix       string
}{
	{"openai", "openai", "OPENAI"},
	{"anthropic", "anthropic", "ANTHROPIC"},
	{"groq", "groq", "GROQ"},
	{"xai", "xai", "XAI"},
	{"gemini", "gemini", "GEMINI"},
}

// ResolveProviders applies env var overrides to the raw YAML provider map, filters
// out entries with invalid credentials, and merges each entry with the global
// BackendConfig. Returns a fully resolved map ready for provider instantiation.
func ResolveProviders(raw map[string]config.RawProviderConfig, global config.BackendConfig) map[string]ProviderConfig {
	merged := applyProviderEnvVars(raw)
	filtered := filterEmptyProviders(merged)
	return buildProviderConfigs(filtered, global)
}

// applyProviderEnvVars overlays well-known provider env vars onto the raw YAML map.
// Env var values always win over YAML values for the same provider name.
func applyProviderEnvVars(raw map[string]config.RawProviderConfig) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for k, v := range raw {
		result[k] = v
	}

	for _, kp := range knownProviderEnvs {
		env := func(suffix string) string { return os.Getenv(kp.prefix + "_" + suffix) }
		apiKey := env("API_KEY")
		baseURL := env("BASE_URL")

		existing, exists := result[kp.name]
		if !exists && apiKey == "" && baseURL == "" {
			continue
		}
		if !exists {
			existing = config.RawProviderConfig{Type: kp.providerType}
		}
		if apiKey != "" {
			existing.APIKey = apiKey
		}
		if baseURL != "" {
			existing.BaseURL = baseURL
		}
		if v := env("MODEL"); v != "" {
			existing.Model = v
		}
		if v := env("AGENT_ROLE"); v != "" {
			existing.AgentRole = v
		}
		if d, ok := config.ParseDuration(env("TIMEOUT")); ok {
			existing.Timeout = &d
		}
		if d, ok := config.ParseDuration(env("CONNECT_TIMEOUT")); ok {
			existing.ConnectTimeout = &d
		}
		if n, err := strconv.Atoi(env("MAX_RETRIES")); err == nil {
			existing.MaxRetries = &n
		}
		result[kp.name] = existing
	}

	return result
}

// filterEmptyProviders removes providers without valid credentials.
func filterEmptyProviders(raw map[string]config.RawProviderConfig) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for name, p := range raw {
		if p.APIKey != "" && !strings.Contains(p.APIKey, "${") {
			result[name] = p
		}
	}
	return result
}

// buildProviderConfigs merges each raw provider config with the global BackendConfig,
// producing fully resolved ProviderConfig values.
func buildProviderConfigs(raw map[string]config.RawProviderConfig, global config.BackendConfig) map[string]ProviderConfig {
	result := make(map[string]ProviderConfig, len(raw))
	for name, r := range raw {
		result[name] = buildProviderConfig(name, r, global)
	}
	return result
}

// buildProviderConfig merges a single RawProviderConfig with the global BackendConfig.
// Non-nil fields in the raw config override the global defaults.
func buildProviderConfig(name string, raw config.RawProviderConfig, global config.BackendConfig) ProviderConfig {
	name = strings.TrimSpace(name)
	providerType := raw.Type
	if providerType == "" {
		providerType = name
	}
	resolved := ProviderConfig{
		Name:      name,
		Type:      providerType,
		APIKey:    raw.APIKey,
		BaseURL:   raw.BaseURL,
		Model:     raw.Model,
		AgentRole: raw.AgentRole,
		Backend:   global,
	}

	if raw.Timeout != nil && *raw.Timeout > 0 {
		resolved.Backend.Timeout = *raw.Timeout
	}
	if raw.ConnectTimeout != nil && *raw.ConnectTimeout > 0 {
		resolved.Backend.ConnectTimeout = *raw.ConnectTimeout
	}
	if raw.MaxRetries != nil && *raw.MaxRetries >= 0 {
		resolved.Backend.MaxRetries = *raw.MaxRetries
	}

	return resolved
}
