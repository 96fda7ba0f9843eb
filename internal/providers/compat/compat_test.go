package compat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"llmgate/internal/core"
	"llmgate/internal/llmclient"
	"llmgate/internal/providers"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai style", `{"error":{"message":"model not found","type":"invalid_request_error"}}`, "model not found"},
		{"top-level message", `{"message":"quota exceeded"}`, "quota exceeded"},
		{"string error", `{"error":"bad key"}`, "bad key"},
		{"plain text", `upstream unavailable`, "upstream unavailable"},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorMessage([]byte(tt.body)); got != tt.want {
				t.Errorf("errorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage_Truncates(t *testing.T) {
	body := strings.Repeat("x", 1000)
	if got := errorMessage([]byte(body)); len(got) != 256 {
		t.Errorf("len = %d, want 256", len(got))
	}
}

func TestNormalizeError_TransportFailures(t *testing.T) {
	b := New("xai", "http://localhost", providers.ProviderConfig{APIKey: "k"}, http.DefaultClient)

	tests := []struct {
		name string
		err  error
		want core.ErrorKind
	}{
		{"truncated body", &llmclient.TransportError{Op: "read response", Err: io.ErrUnexpectedEOF}, core.KindConnectionFailed},
		{"deadline", context.DeadlineExceeded, core.KindConnectionFailed},
		{"status", &llmclient.StatusError{StatusCode: 503, Body: []byte(`{"error":{"message":"overloaded"}}`)}, core.KindBackendStatus},
		{"decode", errors.New("failed to unmarshal response"), core.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gwErr := b.NormalizeError("grok-3-mini", tt.err)
			if gwErr.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", gwErr.Kind, tt.want)
			}
			if gwErr.Provider != "xai" {
				t.Errorf("Provider = %q, want xai", gwErr.Provider)
			}
		})
	}
}
