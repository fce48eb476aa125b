package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptrelay/internal/core"
)

func newTestClient(serverURL, apiKey string) *Client {
	cfg := DefaultConfig()
	cfg.BaseURL = serverURL
	return New(nil, cfg, apiKey)
}

func TestClient_Complete_Success(t *testing.T) {
	const completion = `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"message":{"role":"assistant","content":"hi"}}]}`
	var received ChatRequest
	var headers http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "sk-test")
	body, err := client.Complete(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, completion, string(body))
	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "deepseek-chat", received.Model)
	assert.False(t, received.Stream)
	require.Len(t, received.Messages, 1)
	assert.Equal(t, Message{Role: "user", Content: "hello"}, received.Messages[0])
	require.NotNil(t, received.MaxTokens)
	assert.Equal(t, 2000, *received.MaxTokens)
}

func TestClient_Complete_ForwardsRequestID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ctx := core.WithRequestID(context.Background(), "req-42")
	_, err := newTestClient(server.URL, "sk-test").Complete(ctx, "hi")

	require.NoError(t, err)
	assert.Equal(t, "req-42", got)
}

func TestClient_Complete_UpstreamErrorJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "sk-test").Complete(context.Background(), "hi")

	var proxyErr *core.ProxyError
	require.True(t, errors.As(err, &proxyErr))
	assert.Equal(t, core.ErrorKindUpstream, proxyErr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, proxyErr.HTTPStatusCode())
	assert.Equal(t, "DeepSeek API Error: 429", proxyErr.Message)
	assert.Equal(t, json.RawMessage(`{"error":"rate limit"}`), proxyErr.Details)
}

func TestClient_Complete_UpstreamErrorText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway\n"))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "sk-test").Complete(context.Background(), "hi")

	var proxyErr *core.ProxyError
	require.True(t, errors.As(err, &proxyErr))
	assert.Equal(t, "bad gateway", proxyErr.Details)
}

func TestClient_Complete_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "sk-test").Complete(context.Background(), "hi")

	require.Error(t, err)
	var proxyErr *core.ProxyError
	assert.False(t, errors.As(err, &proxyErr), "malformed body is a local failure, not an upstream one")
}

func TestClient_MissingCredential(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	assert.False(t, client.HasCredential())

	_, err := client.Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrMissingCredential)

	_, err = client.Stream(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrMissingCredential)

	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_Stream_Success(t *testing.T) {
	var received ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: a\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	stream, err := newTestClient(server.URL, "sk-test").Stream(context.Background(), "hi")
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "data: a\n\ndata: [DONE]\n\n", string(data))
	assert.True(t, received.Stream)
	require.NotNil(t, received.MaxTokens)
	assert.Equal(t, 2000, *received.MaxTokens)
}

func TestClient_Stream_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "sk-test").Stream(context.Background(), "hi")

	var proxyErr *core.ProxyError
	require.True(t, errors.As(err, &proxyErr))
	assert.Equal(t, http.StatusUnauthorized, proxyErr.HTTPStatusCode())
	assert.Equal(t, "DeepSeek API Error: 401", proxyErr.Message)
	assert.Equal(t, `{"error":{"message":"bad key"}}`, proxyErr.Details)
}

func TestClient_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url, "sk-test").Complete(context.Background(), "hi")
	require.Error(t, err)
	var proxyErr *core.ProxyError
	assert.False(t, errors.As(err, &proxyErr))
}

func TestNew_TrimsBaseURLAndFillsDefaults(t *testing.T) {
	client := New(nil, Config{BaseURL: "https://example.com/v1/"}, "k")
	assert.Equal(t, "https://example.com/v1", client.config.BaseURL)
	assert.Equal(t, DefaultModel, client.Model())
	assert.Equal(t, "DeepSeek", client.config.ProviderName)
}

func TestNew_ZeroMaxTokensOmitsCap(t *testing.T) {
	client := New(nil, Config{MaxTokens: 0}, "k")
	req := client.chatRequest("p", true)
	assert.Nil(t, req.MaxTokens)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "max_tokens")
}
