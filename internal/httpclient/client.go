// Package httpclient builds the outbound HTTP client used to reach the provider.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig holds the transport and timeout knobs for the upstream client.
type ClientConfig struct {
	// MaxIdleConnsPerHost bounds keep-alive connections to the provider.
	MaxIdleConnsPerHost int

	IdleConnTimeout time.Duration

	// Timeout is the overall limit for one call, body included. It also caps
	// how long a stream may run.
	Timeout time.Duration

	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout is how long to wait for the first response byte.
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns defaults matching the provider SDKs (10 minutes).
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               600 * time.Second,
		DialTimeout:           30 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 600 * time.Second,
	}
}

// NewHTTPClient creates a client from cfg. Zero durations fall back to
// DefaultConfig.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	def := DefaultConfig()
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.TLSHandshakeTimeout <= 0 {
		cfg.TLSHandshakeTimeout = def.TLSHandshakeTimeout
	}
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = def.ResponseHeaderTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		// Compression would make the transport buffer gzip frames and hide
		// chunk boundaries from the stream relay.
		DisableCompression: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}
