// Package main provides the governance events ingestion service: an HTTP
// API that validates, deduplicates, and persists GovernanceEvents submitted
// by producer tools across an AI-governance ecosystem.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/aigrc/govevents/internal/api"
	"github.com/aigrc/govevents/internal/api/middleware"
	"github.com/aigrc/govevents/internal/eventstore"
	"github.com/aigrc/govevents/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "govevents"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting governance events service",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()

	if err := storageConfig.Validate(); err != nil {
		logger.Error("invalid storage configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	apiKeyStore, err := storage.NewPersistentKeyStore(conn)
	if err != nil {
		logger.Error("failed to initialize API key store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	postgresStore, err := eventstore.NewPostgresStore(conn)
	if err != nil {
		logger.Error("failed to initialize event store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := eventstore.NewStore(postgresStore, 0)

	rateLimiterConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(rateLimiterConfig)

	logger.Info("loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	server := api.NewServer(serverConfig, apiKeyStore, rateLimiter, store)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("governance events service stopped")
}
