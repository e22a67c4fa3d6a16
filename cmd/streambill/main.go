package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/streambill/streambill/internal/billing"
	"github.com/streambill/streambill/internal/config"
	"github.com/streambill/streambill/internal/console"
	"github.com/streambill/streambill/internal/identity"
	"github.com/streambill/streambill/internal/logging"
	"github.com/streambill/streambill/internal/vendorfactory"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Log to file (or discard) so adapter logging never garbles the prompt
	logger, cleanup := logging.SetupWithFile(cfg.Logging.Level, cfg.Logging.File)
	defer cleanup()
	slog.SetDefault(logger)

	obfuscator, err := identity.New(cfg.Identity.Salt)
	if err != nil {
		log.Fatalf("Failed to build identity obfuscator: %v", err)
	}

	// buildService creates an adapter for a vendor profile; the console
	// uses it again when /vendor hot-swaps profiles.
	buildService := func(profile config.VendorProfile) (billing.Service, error) {
		newClient, err := vendorfactory.New(profile)
		if err != nil {
			return nil, err
		}
		adapter := billing.NewAdapter(newClient,
			billing.WithLogger(logger),
			billing.WithObfuscator(obfuscator),
		)
		return adapter, nil
	}

	profile, err := cfg.Vendor.CurrentProfile()
	if err != nil {
		log.Fatalf("Failed to resolve vendor profile: %v", err)
	}
	service, err := buildService(profile)
	if err != nil {
		log.Fatalf("Failed to build vendor client: %v", err)
	}
	defer service.Close()

	c := console.New(cfg, service, buildService)
	if err := c.Run(ctx); err != nil {
		log.Printf("console error: %v", err)
		os.Exit(1)
	}
}
