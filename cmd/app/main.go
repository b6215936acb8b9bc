package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vexchange/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", app.DefaultConfigPath, "path to config.yaml")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap(*configPath)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	cfg := bootstrap.Config

	// 2. Pprof Server (for performance profiling)
	if cfg.Server.PprofAddr != "" {
		go func() {
			// Localhost only for security
			slog.Info("🕵️ Pprof server started", slog.String("addr", cfg.Server.PprofAddr))
			if err := http.ListenAndServe(cfg.Server.PprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background audit of orders left open by a previous run
	go bootstrap.AuditOpenOrders(ctx)

	// 5. HTTP server
	errCh := make(chan error, 1)
	go func() {
		errCh <- bootstrap.Server.Start()
	}()

	slog.InfoContext(ctx, "✨ vexchange fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal or server failure
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("❌ HTTP server failed", slog.Any("error", err))
		}
	}

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
	defer cancel()
	if err := bootstrap.Server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", slog.Any("error", err))
	}
}
