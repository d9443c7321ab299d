package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/payflowhq/payflow/internal/config"
	"github.com/payflowhq/payflow/internal/container"
)

// Populated at build time via -ldflags.
var (
	version   = ""
	buildTime = ""
)

func main() {
	configPath := flag.String("config", "configs", "directory holding the configuration file")
	configName := flag.String("config-name", "config", "configuration file name without extension")
	flag.Parse()

	// Load .env for local development. In production, env vars are set
	// directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath, *configName)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}
	if version != "" {
		cfg.App.Version = version
	}
	if buildTime != "" {
		cfg.App.BuildTime = buildTime
	}

	c := container.New(cfg)

	ctx := context.Background()
	if err := c.Initialize(ctx); err != nil {
		// Initialization may have partially succeeded; release what it
		// allocated before exiting.
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = c.Shutdown(shutdownCtx)

		log.Fatalf("cannot initialize application: %v", err)
	}

	runErr := c.Run()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		c.Logger().Error("Shutdown finished with errors", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if runErr != nil {
		c.Logger().Error("Server error", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	c.Logger().Info("Server stopped gracefully")
}
