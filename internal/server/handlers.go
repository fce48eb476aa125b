// Package server provides HTTP handlers and server setup for the prompt relay.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"promptrelay/internal/core"
	"promptrelay/internal/upstream"
)

// Upstream is the provider side of the relay.
type Upstream interface {
	HasCredential() bool
	Complete(ctx context.Context, prompt string) ([]byte, error)
	Stream(ctx context.Context, prompt string) (io.ReadCloser, error)
}

// Mode is how the upstream answer is delivered.
type Mode string

const (
	ModeBuffered  Mode = "buffered"
	ModeStreaming Mode = "streaming"
)

const streamChunkSize = 32 * 1024

// Handler holds the HTTP handlers
type Handler struct {
	upstream       Upstream
	maxPromptChars int
}

// NewHandler creates a new handler with the given upstream.
func NewHandler(up Upstream, maxPromptChars int) *Handler {
	return &Handler{
		upstream:       up,
		maxPromptChars: maxPromptChars,
	}
}

// analyzeRequest is the inbound body. Prompt is a pointer so absence and
// the empty string can be told apart.
type analyzeRequest struct {
	Prompt *string `json:"prompt"`
}

// Analyze handles /api/analyze. Streaming is selected by ?stream=true or by
// an Accept header asking for text/event-stream.
func (h *Handler) Analyze(c echo.Context) error {
	mode := ModeBuffered
	if wantsStream(c.Request()) {
		mode = ModeStreaming
	}
	return h.analyze(c, mode)
}

// AnalyzeStream handles /api/analyze/stream.
func (h *Handler) AnalyzeStream(c echo.Context) error {
	return h.analyze(c, ModeStreaming)
}

func (h *Handler) analyze(c echo.Context, mode Mode) error {
	req := c.Request()
	if req.Method != http.MethodPost {
		c.Response().Header().Set(echo.HeaderAllow, http.MethodPost)
		return handleError(c, mode, core.NewMethodNotAllowedError(req.Method))
	}

	if !h.upstream.HasCredential() {
		return handleError(c, mode, upstream.ErrMissingCredential)
	}

	prompt, err := h.decodePrompt(req.Body)
	if err != nil {
		return handleError(c, mode, err)
	}

	if mode == ModeStreaming {
		return h.relayStream(c, prompt)
	}
	return h.relayBuffered(c, prompt)
}

func (h *Handler) relayBuffered(c echo.Context, prompt string) error {
	ctx := c.Request().Context()
	body, err := h.upstream.Complete(ctx, prompt)
	if err != nil {
		return handleError(c, ModeBuffered, err)
	}

	if usage, ok := upstream.ParseUsage(body); ok {
		logUsage(ctx, ModeBuffered, usage)
	}
	return c.JSONBlob(http.StatusOK, body)
}

// relayStream forwards each upstream read to the caller and flushes it at
// once. Once headers are out, failures can only be logged.
func (h *Handler) relayStream(c echo.Context, prompt string) error {
	ctx := c.Request().Context()
	stream, err := h.upstream.Stream(ctx, prompt)
	if err != nil {
		return handleError(c, ModeStreaming, err)
	}
	observed := upstream.ObserveUsage(stream, func(u upstream.Usage) {
		logUsage(ctx, ModeStreaming, u)
	})
	defer func() {
		_ = observed.Close()
	}()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := observed.Read(buf)
		if n > 0 {
			if _, writeErr := res.Write(buf[:n]); writeErr != nil {
				slog.Debug("caller went away during stream",
					"request_id", core.GetRequestID(ctx), "error", writeErr)
				return nil
			}
			res.Flush()
		}
		if readErr == io.EOF {
			return nil
		}
		if errors.Is(readErr, context.Canceled) {
			slog.Debug("caller went away during stream",
				"request_id", core.GetRequestID(ctx), "error", readErr)
			return nil
		}
		if readErr != nil {
			slog.Error("upstream stream interrupted",
				"request_id", core.GetRequestID(ctx), "error", readErr)
			return nil
		}
	}
}

// decodePrompt reads and validates the inbound body.
func (h *Handler) decodePrompt(body io.Reader) (string, error) {
	if body == nil {
		return "", core.NewInvalidRequestError("request body is required", nil)
	}

	// The body limit error can arrive on the same Read as the final bytes,
	// so the whole body is read before any of it is trusted.
	data, err := io.ReadAll(body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return "", httpErr
		}
		return "", core.NewInvalidRequestError("failed to read request body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", core.NewInvalidRequestError("request body is required", nil)
	}

	var req analyzeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr) && typeErr.Field == "prompt":
			return "", core.NewInvalidRequestError("prompt must be a string", err)
		case errors.As(err, &typeErr):
			return "", core.NewInvalidRequestError("request body must be a JSON object", err)
		default:
			return "", core.NewInvalidRequestError("invalid JSON body", err)
		}
	}

	if req.Prompt == nil {
		return "", core.NewInvalidRequestError("prompt is required", nil)
	}
	prompt := *req.Prompt
	if strings.TrimSpace(prompt) == "" {
		return "", core.NewInvalidRequestError("prompt must not be empty", nil)
	}
	if h.maxPromptChars > 0 && utf8.RuneCountInString(prompt) > h.maxPromptChars {
		return "", core.NewInvalidRequestError(
			"prompt exceeds "+strconv.Itoa(h.maxPromptChars)+" characters", nil)
	}
	return prompt, nil
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func wantsStream(req *http.Request) bool {
	if v := req.URL.Query().Get("stream"); v != "" {
		on, err := strconv.ParseBool(v)
		return err == nil && on
	}
	return strings.Contains(req.Header.Get(echo.HeaderAccept), "text/event-stream")
}

func logUsage(ctx context.Context, mode Mode, u upstream.Usage) {
	slog.Info("upstream usage",
		"request_id", core.GetRequestID(ctx),
		"mode", mode,
		"completion_id", u.ID,
		"model", u.Model,
		"prompt_tokens", u.PromptTokens,
		"completion_tokens", u.CompletionTokens,
		"total_tokens", u.TotalTokens,
	)
}

// handleError converts err to the error envelope and writes it.
func handleError(c echo.Context, mode Mode, err error) error {
	proxyErr := toProxyError(err)
	ctx := c.Request().Context()

	switch proxyErr.Kind {
	case core.ErrorKindInternal, core.ErrorKindConfiguration:
		slog.Error("request failed",
			"request_id", core.GetRequestID(ctx), "mode", mode, "error", err)
	case core.ErrorKindUpstream:
		slog.Warn("upstream returned error",
			"request_id", core.GetRequestID(ctx), "mode", mode, "status", proxyErr.HTTPStatusCode())
	}

	return writeError(c, proxyErr)
}

func toProxyError(err error) *core.ProxyError {
	var proxyErr *core.ProxyError
	if errors.As(err, &proxyErr) {
		return proxyErr
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return core.FromHTTPStatus(httpErr.Code, httpMessage(httpErr))
	}
	if errors.Is(err, upstream.ErrMissingCredential) {
		return core.NewConfigurationError("server is missing its upstream API key")
	}
	return core.NewInternalError(err)
}

func writeError(c echo.Context, proxyErr *core.ProxyError) error {
	if c.Response().Committed {
		return nil
	}
	status := proxyErr.HTTPStatusCode()
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, proxyErr.ToJSON())
}

func httpMessage(e *echo.HTTPError) string {
	if msg, ok := e.Message.(string); ok {
		return strings.ToLower(msg)
	}
	return strings.ToLower(http.StatusText(e.Code))
}
