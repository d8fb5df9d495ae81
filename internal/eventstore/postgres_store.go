package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aigrc/govevents/internal/events"
	"github.com/aigrc/govevents/internal/storage"
)

// ErrNilConnection is returned by NewPostgresStore when given a nil
// connection.
var ErrNilConnection = errors.New("eventstore: nil database connection")

// PostgresStore persists GovernanceEvents with an INSERT ... ON CONFLICT DO
// NOTHING upsert, making the dedup invariant race-safe across concurrent
// submissions of the same id without requiring a SELECT-then-INSERT
// critical section.
type PostgresStore struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewPostgresStore creates a PostgreSQL-backed event store.
func NewPostgresStore(conn *storage.Connection) (*PostgresStore, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}

	return &PostgresStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: getEnvLogLevel(),
		})),
	}, nil
}

// HealthCheck verifies the underlying connection is reachable.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// insert attempts to persist the event, returning (inserted, receivedAt).
// On conflict (id already present) it fetches the already-stored
// receivedAt so the caller can return it for the idempotent response.
func (s *PostgresStore) insert(ctx context.Context, e *events.GovernanceEvent) (bool, time.Time, error) {
	sourceJSON, err := json.Marshal(e.Source)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	goldenThreadJSON, err := json.Marshal(e.GoldenThread)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to marshal golden thread: %w", err)
	}

	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to marshal data: %w", err)
	}

	rawJSON, err := json.Marshal(e.ToMap())
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to marshal raw event: %w", err)
	}

	receivedAt := time.Now().UTC()

	query := `
		INSERT INTO governance_events (
			id, org_id, asset_id, event_type, category, criticality,
			spec_version, schema_version, produced_at, received_at,
			parent_event_id, correlation_id, hash, previous_hash, signature,
			source, golden_thread, data, raw
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := s.conn.ExecContext(
		ctx,
		query,
		e.ID,
		e.OrgID,
		e.AssetID,
		e.Type,
		e.Category,
		e.Criticality,
		e.SpecVersion,
		e.SchemaVersion,
		e.ProducedAt,
		receivedAt,
		nullable(e.ParentEventID),
		nullable(e.CorrelationID),
		e.Hash,
		nullable(e.PreviousHash),
		nullable(e.Signature),
		sourceJSON,
		goldenThreadJSON,
		dataJSON,
		rawJSON,
	)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to insert governance event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		return true, receivedAt, nil
	}

	// Conflict: fetch the receivedAt stamped by whichever submission won.
	existingAt, err := s.receivedAtByID(ctx, e.ID)
	if err != nil {
		return false, time.Time{}, err
	}

	return false, existingAt, nil
}

func (s *PostgresStore) receivedAtByID(ctx context.Context, id string) (time.Time, error) {
	var receivedAt time.Time

	err := s.conn.QueryRowContext(ctx,
		`SELECT received_at FROM governance_events WHERE id = $1`, id,
	).Scan(&receivedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch received_at for duplicate event: %w", err)
	}

	return receivedAt, nil
}

// findByID retrieves an event scoped to its owning org, reconstructing it
// from the persisted raw JSON (the single source of truth for the full
// event shape, including fields not broken out into dedicated columns).
func (s *PostgresStore) findByID(ctx context.Context, id, orgID string) (*events.GovernanceEvent, error) {
	var (
		rawJSON    []byte
		receivedAt time.Time
	)

	query := `SELECT raw, received_at FROM governance_events WHERE id = $1 AND org_id = $2`

	err := s.conn.QueryRowContext(ctx, query, id, orgID).Scan(&rawJSON, &receivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query governance event: %w", err)
	}

	var m map[string]any

	if err := json.Unmarshal(rawJSON, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored event: %w", err)
	}

	event, err := events.FromMap(m)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct stored event: %w", err)
	}

	event.ReceivedAt = &receivedAt

	return event, nil
}

// list runs a flat, filtered query over an org's events ordered by
// receivedAt ascending, reconstructing each row from its raw JSON the same
// way findByID does.
func (s *PostgresStore) list(ctx context.Context, orgID string, filter ListFilter) ([]*events.GovernanceEvent, error) {
	query := `SELECT raw, received_at FROM governance_events WHERE org_id = $1`

	args := []any{orgID}

	if filter.AssetID != "" {
		args = append(args, filter.AssetID)
		query += fmt.Sprintf(" AND asset_id = $%d", len(args))
	}

	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}

	if filter.Criticality != "" {
		args = append(args, filter.Criticality)
		query += fmt.Sprintf(" AND criticality = $%d", len(args))
	}

	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND received_at >= $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY received_at ASC LIMIT $%d", len(args))

	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query governance events: %w", err)
	}
	defer rows.Close()

	result := make([]*events.GovernanceEvent, 0, filter.Limit)

	for rows.Next() {
		var (
			rawJSON    []byte
			receivedAt time.Time
		)

		if err := rows.Scan(&rawJSON, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan governance event row: %w", err)
		}

		var m map[string]any

		if err := json.Unmarshal(rawJSON, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stored event: %w", err)
		}

		event, err := events.FromMap(m)
		if err != nil {
			return nil, fmt.Errorf("failed to reconstruct stored event: %w", err)
		}

		event.ReceivedAt = &receivedAt
		result = append(result, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate governance events: %w", err)
	}

	return result, nil
}

// listAssetIDs returns the distinct asset ids an org has emitted events
// for, alphabetically ordered and paginated.
func (s *PostgresStore) listAssetIDs(ctx context.Context, orgID string, limit, offset int) ([]string, error) {
	query := `
		SELECT DISTINCT asset_id FROM governance_events
		WHERE org_id = $1
		ORDER BY asset_id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.conn.QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset ids: %w", err)
	}
	defer rows.Close()

	assetIDs := make([]string, 0, limit)

	for rows.Next() {
		var assetID string

		if err := rows.Scan(&assetID); err != nil {
			return nil, fmt.Errorf("failed to scan asset id row: %w", err)
		}

		assetIDs = append(assetIDs, assetID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate asset ids: %w", err)
	}

	return assetIDs, nil
}

// nullable converts an empty string to nil so optional text columns store
// SQL NULL rather than "".
func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func getEnvLogLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
