// Package httpclient provides *http.Client configurations with a shared
// timeout/transport policy for outbound calls. The Request Orchestrator's
// dispatcher builds its client here; the Slack notifier and the model
// bridges use their SDKs' own clients.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig tunes the transport of a shared HTTP client.
type ClientConfig struct {
	Timeout                 time.Duration
	MaxRetries               int
	DisableSSLVerification   bool
	MaxIdleConns             int
	IdleConnTimeout          time.Duration
	TLSHandshakeTimeout      time.Duration
	ResponseHeaderTimeout    time.Duration
}

// DefaultClientConfig returns the baseline configuration used by generic
// outbound calls.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:               30 * time.Second,
		MaxRetries:            3,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
}

// NewClient builds an *http.Client from config.
func NewClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          config.MaxIdleConns,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}
	if config.DisableSSLVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}

// NewClientWithTimeout builds a client using DefaultClientConfig with a
// single timeout override.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	config := DefaultClientConfig()
	config.Timeout = timeout
	return NewClient(config)
}

// NewDefaultClient builds a client from DefaultClientConfig.
func NewDefaultClient() *http.Client {
	return NewClient(DefaultClientConfig())
}

// SlackClientConfig tunes a client for best-effort Slack notifications
// with a short timeout, since a notification failure must never block the
// approval flow it reports on. It sets MaxRetries to 2, but NewClient
// does not retry, so the built client makes a single attempt.
func SlackClientConfig() ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = 10 * time.Second
	config.MaxRetries = 2
	return config
}

// PrometheusClientConfig tunes a client for scraping/pushing metrics.
func PrometheusClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = timeout / 2
	return config
}

// LLMClientConfig tunes a client for calls to a model provider, which
// tend to have longer time-to-first-byte than ordinary REST calls.
func LLMClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = timeout / 3
	return config
}
