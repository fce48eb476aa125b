// Package main is the entry point for the prompt relay server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"promptrelay/config"
	"promptrelay/internal/app"
	"promptrelay/internal/logging"
	"promptrelay/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Bootstrap logger until the configured one is known.
	logging.Setup(logging.Options{Format: os.Getenv("LOG_FORMAT"), Level: os.Getenv("LOG_LEVEL")})

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(logging.Options{Format: cfg.Log.Format, Level: cfg.Log.Level})

	slog.Info("starting promptrelay",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	relay, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := relay.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := relay.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
