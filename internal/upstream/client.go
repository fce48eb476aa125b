// Package upstream talks to the OpenAI-compatible chat-completions endpoint of
// the provider. It offers a buffered call and a streaming call; neither
// retries, and neither rewrites what the provider returns.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"promptrelay/internal/core"
)

const (
	// DefaultBaseURL is the provider API root.
	DefaultBaseURL = "https://api.deepseek.com"
	// DefaultModel is the model every request is sent to.
	DefaultModel = "deepseek-chat"
	// DefaultMaxTokens caps generated output.
	DefaultMaxTokens = 2000

	chatCompletionsPath = "/chat/completions"
)

// ErrMissingCredential is returned when the client has no API key.
var ErrMissingCredential = errors.New("missing upstream API key")

// Config holds the provider settings fixed at construction.
type Config struct {
	// ProviderName prefixes upstream error messages, e.g. "DeepSeek API Error: 429".
	ProviderName string
	BaseURL      string
	Model        string
	MaxTokens    int
}

// DefaultConfig returns the settings for the DeepSeek chat API.
func DefaultConfig() Config {
	return Config{
		ProviderName: "DeepSeek",
		BaseURL:      DefaultBaseURL,
		Model:        DefaultModel,
		MaxTokens:    DefaultMaxTokens,
	}
}

// Client issues chat-completion calls with a server-held credential.
type Client struct {
	httpClient *http.Client
	config     Config
	apiKey     string
}

// New creates a client. A nil httpClient falls back to http.DefaultClient.
// An empty apiKey is accepted; calls then fail with ErrMissingCredential.
func New(httpClient *http.Client, cfg Config, apiKey string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "DeepSeek"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		httpClient: httpClient,
		config:     cfg,
		apiKey:     apiKey,
	}
}

// HasCredential reports whether an API key was configured.
func (c *Client) HasCredential() bool {
	return c.apiKey != ""
}

// Model returns the model requests are sent to.
func (c *Client) Model() string {
	return c.config.Model
}

// Complete performs a non-streaming call and returns the upstream JSON body
// unchanged. A non-2xx answer becomes an upstream *core.ProxyError whose
// details hold the parsed provider body.
func (c *Client) Complete(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := c.send(ctx, prompt, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if !isSuccess(resp.StatusCode) {
		return nil, core.NewUpstreamError(resp.StatusCode, c.statusMessage(resp.StatusCode), parseDetails(body))
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream returned malformed JSON (%d bytes)", len(body))
	}
	return body, nil
}

// Stream performs a streaming call and returns the open event stream once the
// provider has answered with a 2xx status. The caller must close it. A non-2xx
// answer is read in full and returned as an upstream *core.ProxyError with the
// raw text as details.
func (c *Client) Stream(ctx context.Context, prompt string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, prompt, true)
	if err != nil {
		return nil, err
	}

	if !isSuccess(resp.StatusCode) {
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			body = []byte("failed to read error response")
		}
		return nil, core.NewUpstreamError(resp.StatusCode, c.statusMessage(resp.StatusCode), string(body))
	}

	return resp.Body, nil
}

func (c *Client) send(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	if !c.HasCredential() {
		return nil, ErrMissingCredential
	}

	req, err := c.buildRequest(ctx, c.chatRequest(prompt, stream))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send upstream request: %w", err)
	}
	return resp, nil
}

func (c *Client) chatRequest(prompt string, stream bool) *ChatRequest {
	req := &ChatRequest{
		Model:    c.config.Model,
		Messages: []Message{{Role: "user", Content: prompt}},
		Stream:   stream,
	}
	if c.config.MaxTokens > 0 {
		maxTokens := c.config.MaxTokens
		req.MaxTokens = &maxTokens
	}
	return req
}

// buildRequest creates the outbound HTTP request.
func (c *Client) buildRequest(ctx context.Context, body *ChatRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if requestID := core.GetRequestID(ctx); requestID != "" && isASCII(requestID) {
		req.Header.Set("X-Request-ID", requestID)
	}
	return req, nil
}

func (c *Client) statusMessage(statusCode int) string {
	return fmt.Sprintf("%s API Error: %d", c.config.ProviderName, statusCode)
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// parseDetails returns body as json.RawMessage when it is JSON, otherwise as
// a trimmed string.
func parseDetails(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	return string(trimmed)
}

// isASCII guards header values; request IDs come from callers.
func isASCII(s string) bool {
	if len(s) > 512 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
