// Package httpclient provides a centralized HTTP client factory with unified configuration.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"llmgate/config"
)

// ClientConfig holds configuration options for creating HTTP clients
type ClientConfig struct {
	// MaxConnsPerHost caps concurrent connections to one backend host
	MaxConnsPerHost int

	// MaxIdleConnsPerHost controls the maximum idle (keep-alive) connections to keep per-host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive) connection will remain idle before closing itself
	IdleConnTimeout time.Duration

	// Timeout specifies a time limit for requests made by the client
	Timeout time.Duration

	// DialTimeout is the maximum amount of time a dial will wait for a connect to complete
	DialTimeout time.Duration

	// KeepAlive specifies the interval between keep-alive probes for an active network connection
	KeepAlive time.Duration

	// TLSHandshakeTimeout specifies the maximum amount of time to wait for a TLS handshake
	TLSHandshakeTimeout time.Duration
}

// DefaultConfig returns a ClientConfig with the backend connection defaults:
// 10s request timeout, 10s connect timeout, 10 connections and 5 keep-alive
// connections per host.
func DefaultConfig() ClientConfig {
	return FromBackend(config.DefaultBackendConfig())
}

// FromBackend derives a ClientConfig from a provider's backend settings.
func FromBackend(b config.BackendConfig) ClientConfig {
	return ClientConfig{
		MaxConnsPerHost:     b.MaxConns,
		MaxIdleConnsPerHost: b.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		Timeout:             b.Timeout,
		DialTimeout:         b.ConnectTimeout,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: b.ConnectTimeout,
	}
}

// NewHTTPClient creates a new HTTP client with the provided configuration.
// If config is nil, DefaultConfig() is used.
func NewHTTPClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		def := DefaultConfig()
		cfg = &def
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConns:          cfg.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// CloseIdle releases pooled connections held by a client created here.
func CloseIdle(c *http.Client) {
	if c == nil {
		return
	}
	c.CloseIdleConnections()
}
