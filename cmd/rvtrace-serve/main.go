// Command rvtrace-serve is the read-only dashboard API over the
// collector's PostgreSQL store: run history, per-run control-flow
// edges, and the centralized audit trail. Live event tailing is served
// by rvtrace-collectord instead, since only that process holds the
// in-memory broadcaster a tail connection needs.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rvtrace/rvtrace/internal/collector/rest"
	"github.com/rvtrace/rvtrace/internal/collector/storage"
)

type serverConfig struct {
	HTTPAddr  string
	DSN       string
	JWTPubKey string
	LogLevel  string
}

func main() {
	var cfg serverConfig
	flag.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "address the REST API listener binds")
	flag.StringVar(&cfg.DSN, "dsn", "", "PostgreSQL connection string (required)")
	flag.StringVar(&cfg.JWTPubKey, "jwt-public-key", "", "PEM RSA public key for verifying API bearer tokens (leave empty to disable auth, dev only)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.DSN == "" {
		logger.Error("--dsn is required")
		os.Exit(1)
	}

	var pubKey *rsa.PublicKey
	if cfg.JWTPubKey != "" {
		var err error
		pubKey, err = rest.ParseRSAPublicKeyFile(cfg.JWTPubKey)
		if err != nil {
			logger.Error("failed to load JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("no --jwt-public-key set: API authentication disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(ctx, cfg.DSN, storage.DefaultBatchSize, storage.DefaultFlushInterval)
	if err != nil {
		logger.Error("storage.New failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close(context.Background())

	srv := rest.NewServer(store)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      rest.NewRouter(srv, pubKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("REST API listening", slog.String("addr", cfg.HTTPAddr))
		httpErrCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-httpErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP listener failed", slog.Any("error", err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful HTTP shutdown failed, forcing close", slog.Any("error", err))
		httpServer.Close()
	}

	logger.Info("rvtrace-serve stopped")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
