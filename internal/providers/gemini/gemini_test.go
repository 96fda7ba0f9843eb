package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/config"
	"llmgate/internal/core"
	"llmgate/internal/providers"
)

func testConfig(baseURL string) providers.ProviderConfig {
	return providers.ProviderConfig{
		Name:    "gemini",
		Type:    "gemini",
		APIKey:  "AIza-test",
		BaseURL: baseURL,
		Model:   DefaultModel,
		Backend: config.DefaultBackendConfig(),
	}
}

func TestNew(t *testing.T) {
	_, err := New(providers.ProviderConfig{})
	assert.Error(t, err, "api key is required")

	b, err := New(testConfig(""))
	require.NoError(t, err)
	assert.Equal(t, "gemini", b.Name())
	assert.Equal(t, DefaultBaseURL, NewWithHTTPClient(testConfig(""), http.DefaultClient).BaseURL())
	assert.Equal(t, "http://localhost:9999/v1", NewWithHTTPClient(testConfig("http://localhost:9999/v1"), http.DefaultClient).BaseURL())
}

func TestRegistration(t *testing.T) {
	assert.Equal(t, "gemini", Registration.Type)
	assert.Equal(t, DefaultModel, Registration.DefaultModel)
	require.NotNil(t, Registration.New)
}

func TestCall(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer AIza-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		_, _ = w.Write([]byte(`{"id":"r1","model":"gemini-2.0-flash","usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`))
	}))
	defer server.Close()

	b := NewWithHTTPClient(testConfig(server.URL), server.Client())
	resp, err := b.Call(context.Background(), DefaultModel, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, received["model"])

	u, ok := b.ExtractUsage(resp)
	require.True(t, ok)
	assert.Equal(t, core.NewUsage(9, 3), u)
}

func TestCall_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	defer server.Close()

	b := NewWithHTTPClient(testConfig(server.URL), server.Client())
	_, err := b.Call(context.Background(), DefaultModel, nil)
	require.Error(t, err)

	gwErr := b.NormalizeError(DefaultModel, err)
	assert.Equal(t, core.KindAuthenticationFailed, gwErr.Kind)
	assert.Equal(t, "gemini", gwErr.Provider)
	assert.Equal(t, "invalid key", gwErr.Detail)
}
