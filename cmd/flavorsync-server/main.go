// Flavorsync-server is the reference metadata service for flavorsync
// clients. Records live in PostgreSQL when a DSN is configured and in
// memory otherwise.
//
// Usage:
//
//	flavorsync-server [--config <path>]
//
// Without --config (or CONFIG_PATH) settings come from FLAVORSYNC_SERVER_*
// environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flavordex/flavorsync/internal/auth"
	"github.com/flavordex/flavorsync/internal/config"
	"github.com/flavordex/flavorsync/internal/server"
	"github.com/flavordex/flavorsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to server config YAML")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("flavorsync-server", version)
		return nil
	}

	cfg, err := config.LoadServer(*cfgPath)
	if err != nil {
		return err
	}

	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(telemetry.NewHandler(text, "flavorsync-server"))
	slog.SetDefault(logger)

	// --- Telemetry (optional) ------------------------------------------------

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		shutdownTel, err := telemetry.Setup(context.Background(), telemetry.Config{
			OTLPEndpoint:   endpoint,
			Insecure:       os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
			ServiceName:    "flavorsync-server",
			ServiceVersion: version,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Backend -------------------------------------------------------------

	var backend server.Backend
	if cfg.DatabaseDSN != "" {
		pg, err := server.NewPostgresBackend(ctx, server.PostgresConfig{
			DSN:      cfg.DatabaseDSN,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer pg.Close()
		backend = pg
		logger.Info("using postgres backend")
	} else {
		backend = server.NewMemoryBackend()
		logger.Warn("no database_dsn configured, records are kept in memory only")
	}

	// --- HTTP ----------------------------------------------------------------

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(backend, auth.NewVerifier([]byte(cfg.JWTSecret)), logger),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
