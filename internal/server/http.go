package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"promptrelay/config"
	"promptrelay/internal/core"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey      string // Optional: bearer token required on /api routes
	BodySizeLimit  int64  // Max request body size in bytes (default: 1MB)
	MaxPromptChars int    // Max prompt length in runes (default: 32000)
}

// New creates a new HTTP server
func New(up Upstream, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	maxPromptChars := cfg.MaxPromptChars
	if maxPromptChars <= 0 {
		maxPromptChars = config.DefaultMaxPromptChars
	}
	handler := NewHandler(up, maxPromptChars)

	// Global middleware stack (order matters)
	e.Use(RequestID())
	e.Use(RequestLogger())
	e.Use(middleware.Recover())

	bodySizeLimit := config.DefaultBodySizeLimit
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	// Public routes
	e.GET("/health", handler.Health)

	// API routes. Any method is routed so the handler itself answers 405.
	api := e.Group("/api")
	if cfg.MasterKey != "" {
		api.Use(AuthMiddleware(cfg.MasterKey))
	}
	api.Any("/analyze", handler.Analyze)
	api.Any("/analyze/stream", handler.AnalyzeStream)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// errorHandler renders errors that escape handlers and middleware (unknown
// routes, body limit, panics) with the same envelope the handlers use.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	proxyErr := toProxyError(err)
	if proxyErr.Kind == core.ErrorKindInternal {
		slog.Error("unhandled error",
			"request_id", core.GetRequestID(c.Request().Context()), "error", err)
	}
	if werr := writeError(c, proxyErr); werr != nil {
		slog.Error("failed to write error response", "error", werr)
	}
}
