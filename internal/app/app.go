// Package app wires configuration, the upstream client and the HTTP server
// together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"promptrelay/config"
	"promptrelay/internal/httpclient"
	"promptrelay/internal/server"
	"promptrelay/internal/upstream"
)

// App represents the running relay.
type App struct {
	config *config.Config
	server *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New builds the relay from cfg. The upstream credential is read from cfg
// once, here, and injected into the client.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}

	httpClient := httpclient.NewHTTPClient(httpclient.ClientConfig{
		Timeout:               cfg.HTTP.Timeout,
		ResponseHeaderTimeout: cfg.HTTP.ResponseHeaderTimeout,
	})

	upstreamCfg := upstream.DefaultConfig()
	upstreamCfg.BaseURL = cfg.Upstream.BaseURL
	upstreamCfg.Model = cfg.Upstream.Model
	upstreamCfg.MaxTokens = cfg.Upstream.MaxTokens
	client := upstream.New(httpClient, upstreamCfg, cfg.Upstream.APIKey)

	srv := server.New(client, &server.Config{
		MasterKey:      cfg.Server.MasterKey,
		BodySizeLimit:  cfg.Server.BodySizeLimit,
		MaxPromptChars: cfg.Limits.MaxPromptChars,
	})

	a := &App{
		config: cfg,
		server: srv,
	}
	a.logStartupInfo()
	return a, nil
}

// Handler returns the HTTP handler, for embedding in other servers.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, honoring
// ctx. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down server...")
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Upstream.APIKey == "" {
		slog.Warn("DEEPSEEK_API_KEY not set - every analyze request will fail with a configuration error")
	}
	if cfg.Server.MasterKey == "" {
		slog.Info("authentication disabled", "hint", "set PROMPTRELAY_MASTER_KEY to require a bearer token")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	slog.Info("upstream configured",
		"base_url", cfg.Upstream.BaseURL,
		"model", cfg.Upstream.Model,
		"max_tokens", cfg.Upstream.MaxTokens,
		"timeout", cfg.HTTP.Timeout,
	)
}
