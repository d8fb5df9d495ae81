package api

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aigrc/govevents/internal/eventstore"
	"github.com/aigrc/govevents/internal/events"
	"github.com/aigrc/govevents/internal/goldenthread"
	"github.com/aigrc/govevents/internal/storage"
)

const apiTestPostgresDriverName = "postgres"

// apiTestServer bundles a fully wired Server plus the org/key pair tests
// authenticate with.
type apiTestServer struct {
	server *Server
	apiKey string
	orgID  string
}

// setupAPITestServer starts a PostgreSQL testcontainer, runs migrations,
// registers a test org's API key, and wires a Server over it. Rate
// limiting is left disabled (nil limiter) so tests exercise auth and
// handler logic without tuning token-bucket rates.
func setupAPITestServer(ctx context.Context, t *testing.T) *apiTestServer {
	t.Helper()

	return setupAPITestServerWithConfig(ctx, t, func(*ServerConfig) {})
}

// setupAPITestServerWithConfig is setupAPITestServer plus a hook to
// customize the ServerConfig before the Server is constructed, e.g. to turn
// on Golden Thread signature verification.
func setupAPITestServerWithConfig(ctx context.Context, t *testing.T, configure func(*ServerConfig)) *apiTestServer {
	t.Helper()

	postgresContainer, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("govevents_api_test"),
		pgcontainer.WithUsername("test"),
		pgcontainer.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	t.Setenv("DATABASE_URL", connStr)

	conn, err := storage.NewConnection(storage.LoadConfig()) //nolint:contextcheck
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := runAPITestMigrations(conn); err != nil {
		t.Fatalf("failed to run test migrations: %v", err)
	}

	apiKeyStore, err := storage.NewPersistentKeyStore(conn)
	if err != nil {
		t.Fatalf("failed to create key store: %v", err)
	}

	orgID := "org-pangolabs"

	apiKey, err := storage.GenerateAPIKey(orgID)
	if err != nil {
		t.Fatalf("failed to generate API key: %v", err)
	}

	err = apiKeyStore.Add(ctx, &storage.APIKey{
		ID:            "test-key-id",
		Key:           apiKey,
		OrgID:         orgID,
		PrincipalType: storage.PrincipalTypeProducer,
		Name:          "test producer",
		CreatedAt:     time.Now(),
		Active:        true,
	})
	if err != nil {
		t.Fatalf("failed to add API key: %v", err)
	}

	postgresStore, err := eventstore.NewPostgresStore(conn)
	if err != nil {
		t.Fatalf("failed to create postgres store: %v", err)
	}

	store := eventstore.NewStore(postgresStore, 0)

	cfg := ServerConfig{
		Port:               8080,
		Host:               "localhost",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           slog.LevelError,
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization"},
		CORSMaxAge:         86400,
	}

	configure(&cfg)

	server := NewServer(cfg, apiKeyStore, nil, store)

	t.Cleanup(func() {
		_ = apiKeyStore.Close()
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(postgresContainer)
	})

	return &apiTestServer{server: server, apiKey: apiKey, orgID: orgID}
}

func runAPITestMigrations(conn *storage.Connection) error {
	driver, err := postgres.WithInstance(conn.DB, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://../../cmd/govevents-migrate", // relative path from internal/api
		apiTestPostgresDriverName,
		driver,
	)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// validGoldenThread returns a Thread that passes goldenthread.Validate,
// shared across handler tests that need a complete event body.
func validGoldenThread() goldenthread.Thread {
	return goldenthread.Thread{
		Type: "linked",
		Linked: &goldenthread.Linked{
			System:     "jira",
			Ref:        "FIN-1234",
			Status:     goldenthread.StatusActive,
			ApprovedAt: time.Now(),
			ApprovedBy: "ciso@corp.com",
			TicketID:   "FIN-1234",
		},
	}
}

// newTestEvent builds a valid GovernanceEvent for orgID via the Standard
// builder, overriding AssetID so callers can vary it across test cases.
func newTestEvent(t *testing.T, orgID, assetID string) *events.GovernanceEvent {
	t.Helper()

	builder := events.NewBuilder(events.Standard)

	event, err := builder.NewScanEvent(events.Params{
		Type:         events.TypeScanCompleted,
		Source:       events.Source{Tool: "semgrep", OrgID: orgID, InstanceID: "instance-1"},
		AssetID:      assetID,
		ProducedAt:   time.Now(),
		GoldenThread: validGoldenThread(),
		Data:         map[string]any{"findings": 0},
	})
	if err != nil {
		t.Fatalf("failed to build test event: %v", err)
	}

	return event
}
