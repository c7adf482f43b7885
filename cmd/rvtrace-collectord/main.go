// Command rvtrace-collectord is the always-on counterpart to the
// remote sink: it accepts mTLS gRPC connections from rvtrace decode
// runs, persists their reconstructed control-flow edges and audit trail
// to PostgreSQL, and lets a browser tail a run's events live over a
// hand-rolled WebSocket endpoint.
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rvtrace/rvtrace/internal/collector/grpcserver"
	"github.com/rvtrace/rvtrace/internal/collector/storage"
	"github.com/rvtrace/rvtrace/internal/collector/ws"
)

type serverConfig struct {
	GRPCAddr string
	HTTPAddr string
	CertPath string
	KeyPath  string
	CAPath   string
	Insecure bool
	DSN      string
	LogLevel string
}

func main() {
	var cfg serverConfig
	flag.StringVar(&cfg.GRPCAddr, "grpc-addr", ":4443", "address the mTLS gRPC ingestion listener binds")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", ":8443", "address the live-tail HTTP/WebSocket listener binds")
	flag.StringVar(&cfg.CertPath, "cert", "", "server certificate (required unless --insecure)")
	flag.StringVar(&cfg.KeyPath, "key", "", "server private key (required unless --insecure)")
	flag.StringVar(&cfg.CAPath, "ca", "", "client CA bundle for mTLS verification (required unless --insecure)")
	flag.BoolVar(&cfg.Insecure, "insecure", false, "disable mTLS on the gRPC listener (testing only)")
	flag.StringVar(&cfg.DSN, "dsn", "", "PostgreSQL connection string (required)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.DSN == "" {
		logger.Error("--dsn is required")
		os.Exit(1)
	}
	if !cfg.Insecure && (cfg.CertPath == "" || cfg.KeyPath == "" || cfg.CAPath == "") {
		logger.Error("--cert, --key, and --ca are required unless --insecure is set")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(ctx, cfg.DSN, storage.DefaultBatchSize, storage.DefaultFlushInterval)
	if err != nil {
		logger.Error("storage.New failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close(context.Background())

	broadcaster := ws.NewBroadcaster(logger, 64)
	defer broadcaster.Close()

	svc := grpcserver.NewServer(store, broadcaster, logger)
	lifecycle, err := grpcserver.New(grpcserver.Config{
		Addr:     cfg.GRPCAddr,
		CertPath: cfg.CertPath,
		KeyPath:  cfg.KeyPath,
		CAPath:   cfg.CAPath,
		Insecure: cfg.Insecure,
	}, svc)
	if err != nil {
		logger.Error("grpcserver.New failed", slog.Any("error", err))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      newTailRouter(broadcaster, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcErrCh := make(chan error, 1)
	httpErrCh := make(chan error, 1)

	go func() {
		logger.Info("gRPC ingestion listening", slog.String("addr", cfg.GRPCAddr))
		grpcErrCh <- lifecycle.Serve()
	}()
	go func() {
		logger.Info("HTTP tail listening", slog.String("addr", cfg.HTTPAddr))
		httpErrCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-grpcErrCh:
		logger.Error("gRPC listener failed", slog.Any("error", err))
	case err := <-httpErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP listener failed", slog.Any("error", err))
		}
	}

	cancel()
	lifecycle.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful HTTP shutdown failed, forcing close", slog.Any("error", err))
		httpServer.Close()
	}

	logger.Info("rvtrace-collectord stopped")
}

func newTailRouter(bc *ws.Broadcaster, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	tail := ws.NewHandler(bc, logger)
	r.Get("/api/v1/runs/{id}/tail", tail.ServeHTTP)

	return r
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
