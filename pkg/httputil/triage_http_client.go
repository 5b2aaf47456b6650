// Package httputil provides pooled HTTP clients for the outbound providers.
package httputil

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"triage_server/pkg/apperr"
)

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	MaxIdleConns        int           // default: 100
	MaxIdleConnsPerHost int           // default: 20
	MaxConnsPerHost     int           // default: 100
	IdleConnTimeout     time.Duration // default: 90s

	DialTimeout         time.Duration // default: 10s
	TLSHandshakeTimeout time.Duration // default: 10s
	ResponseTimeout     time.Duration // default: 30s

	KeepAliveInterval time.Duration // default: 30s
}

// DefaultClientConfig returns the baseline configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewClient creates an HTTP client with connection pooling.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}

// GmailClientConfig is tuned for the Gmail API.
func GmailClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConnsPerHost = 50
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.ResponseTimeout = 60 * time.Second
	return cfg
}

// LLMClientConfig allows long completions with moderate concurrency.
func LLMClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConns = 30
	cfg.MaxConnsPerHost = 30
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.ResponseTimeout = 120 * time.Second
	return cfg
}

// MarketplaceClientConfig is tuned for the marketplace search API.
func MarketplaceClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConns = 50
	cfg.MaxConnsPerHost = 50
	cfg.ResponseTimeout = 20 * time.Second
	return cfg
}

// ChatClientConfig is for the chat bot API; bursts are small.
func ChatClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConns = 10
	cfg.MaxIdleConnsPerHost = 5
	cfg.MaxConnsPerHost = 10
	cfg.ResponseTimeout = 15 * time.Second
	return cfg
}

var (
	clientsOnce       sync.Once
	gmailClient       *http.Client
	llmClient         *http.Client
	marketplaceClient *http.Client
	chatClient        *http.Client
)

func initClients() {
	clientsOnce.Do(func() {
		gmailClient = NewClient(GmailClientConfig())
		llmClient = NewClient(LLMClientConfig())
		marketplaceClient = NewClient(MarketplaceClientConfig())
		chatClient = NewClient(ChatClientConfig())
	})
}

// GmailClient returns the shared client for the Gmail API.
func GmailClient() *http.Client {
	initClients()
	return gmailClient
}

// LLMClient returns the shared client for the completion endpoint.
func LLMClient() *http.Client {
	initClients()
	return llmClient
}

// MarketplaceClient returns the shared client for marketplace search.
func MarketplaceClient() *http.Client {
	initClients()
	return marketplaceClient
}

// ChatClient returns the shared client for the chat bot API.
func ChatClient() *http.Client {
	initClients()
	return chatClient
}

const errorSnippetLimit = 512

// StatusError converts a non-2xx response into a classified AppError.
// It returns nil for 2xx responses. The body is read up to a small limit.
func StatusError(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
	return apperr.FromHTTPStatus(service, resp.StatusCode,
		fmt.Errorf("%s: status %d: %s", service, resp.StatusCode, string(snippet)))
}
