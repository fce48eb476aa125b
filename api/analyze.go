// Package handler exposes the relay as a serverless function for Vercel's Go
// runtime, which routes /api/analyze to the exported Handler.
package handler

import (
	"log/slog"
	"net/http"
	"sync"

	"promptrelay/config"
	"promptrelay/internal/app"
	"promptrelay/internal/core"
	"promptrelay/internal/logging"
)

var (
	once    sync.Once
	relay   http.Handler
	initErr error
)

func setup() {
	cfg, err := config.Load()
	if err != nil {
		initErr = err
		return
	}
	logging.Setup(logging.Options{Format: cfg.Log.Format, Level: cfg.Log.Level})

	a, err := app.New(cfg)
	if err != nil {
		initErr = err
		return
	}
	relay = a.Handler()
}

// Handler is the entry point for Vercel serverless functions. The relay is
// built on the first invocation and reused by warm instances.
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(setup)
	if initErr != nil {
		slog.Error("relay initialization failed", "error", initErr)
		writeConfigError(w)
		return
	}
	relay.ServeHTTP(w, r)
}

func writeConfigError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":{"kind":"` + string(core.ErrorKindConfiguration) + `","message":"relay is misconfigured"}}`))
}
