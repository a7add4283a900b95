// Package main is the entry point for the MediaShelf storage gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediashelf/mediashelf/internal/bootstrap"
	"github.com/mediashelf/mediashelf/internal/config"
	"github.com/mediashelf/mediashelf/internal/logging"
	"github.com/mediashelf/mediashelf/internal/metrics"
	"github.com/mediashelf/mediashelf/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	backend := flag.String("backend", "", "storage backend: s3, gcs, azure, memory (default: from config or s3)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown timeout (default: from config or 30s)")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}

	// Configuration errors are fatal before anything listens.
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Observability.Metrics {
		metrics.Register()
	}

	gw, err := bootstrap.NewGateway(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage gateway: %v\n", err)
		os.Exit(1)
	}

	// An unreachable backend at boot is logged, not fatal: /readyz reports it
	// until the backend comes up.
	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := gw.HealthCheck(probeCtx); err != nil {
		slog.Warn("Storage backend not reachable at startup", "backend", gw.Backend(), "error", err)
	}
	cancel()

	srv, err := server.New(cfg, gw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := cfg.Addr()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("MediaShelf storage gateway listening", "addr", addr, "backend", gw.Backend())
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		// Give in-flight streams time to complete.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
