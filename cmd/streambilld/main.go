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

	"github.com/streambill/streambill/internal/api"
	"github.com/streambill/streambill/internal/billing"
	"github.com/streambill/streambill/internal/config"
	"github.com/streambill/streambill/internal/identity"
	"github.com/streambill/streambill/internal/logging"
	"github.com/streambill/streambill/internal/observability"
	"github.com/streambill/streambill/internal/store"
	"github.com/streambill/streambill/internal/vendorfactory"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := logging.Setup(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx := context.Background()

	// Setup OpenTelemetry
	otelShutdown, err := observability.Setup(ctx, observability.DefaultConfig())
	if err != nil {
		slog.Error("failed to setup observability", "error", err)
		os.Exit(1)
	}

	// Build the vendor client for the active profile
	profile, err := cfg.Vendor.CurrentProfile()
	if err != nil {
		slog.Error("failed to resolve vendor profile", "error", err)
		os.Exit(1)
	}
	newClient, err := vendorfactory.New(profile)
	if err != nil {
		slog.Error("failed to build vendor client", "error", err)
		os.Exit(1)
	}

	obfuscator, err := identity.New(cfg.Identity.Salt)
	if err != nil {
		slog.Error("failed to build identity obfuscator", "error", err)
		os.Exit(1)
	}

	// Adapter, wrapped with metrics and tracing
	adapter := billing.NewAdapter(newClient,
		billing.WithLogger(logger),
		billing.WithObfuscator(obfuscator),
	)
	instrumented := billing.NewInstrumented(adapter, logger, profile.Provider)
	service, err := observability.NewBillingMiddleware(instrumented, profile.Provider)
	if err != nil {
		slog.Error("failed to setup billing middleware", "error", err)
		os.Exit(1)
	}

	// Record observed purchase activity for the activity endpoint
	ledger := store.NewMemoryLedger(256)
	updates, cancelUpdates := service.Updates()
	go func() {
		for ev := range updates {
			ledger.Append(ev)
		}
	}()

	// Setup HTTP server
	mux := http.NewServeMux()
	apiServer := api.New(service, ledger, instrumented.GetStats, logger)
	apiServer.RegisterRoutes(mux)

	addr := cfg.Server.Address
	if addr == "" {
		addr = "localhost:7878"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("streambilld starting", "addr", addr, "vendor", cfg.Vendor.Current)
		fmt.Printf("streambilld listening on %s\n", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	cancelUpdates()
	service.Close()
	ledger.Close()
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Error("observability shutdown error", "error", err)
	}
	slog.Info("streambilld stopped")
}
