package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/temcen/hyprec/internal/app"
	"github.com/temcen/hyprec/internal/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Serve(ctx); err != nil {
		application.Logger().WithError(err).Fatal("Server failed")
	}
}
