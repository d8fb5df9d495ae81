package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// PersistentKeyStore implements APIKeyStore with a PostgreSQL backend.
// Provides production-ready API key storage with connection pooling and
// parameterized queries.
type PersistentKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentKeyStore creates a production-ready PostgreSQL key store.
func NewPersistentKeyStore(conn *Connection) (*PersistentKeyStore, error) {
	return &PersistentKeyStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: getEnvLogLevel("LOG_LEVEL", slog.LevelDebug),
		})),
	}, nil
}

// Close closes the database connection pool gracefully.
func (s *PersistentKeyStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}

// FindByKey retrieves an API key by its key value using O(1) hash lookup.
// Uses lookup_hash (SHA256) for fast database query, then verifies with bcrypt.
// Returns (nil, false) if key not found or invalid.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	lookupHash := ComputeKeyLookupHash(key)

	query := `
		SELECT id, secret_hash, org_id, principal_type, name, created_at, revoked_at, active
		FROM api_keys
		WHERE lookup_hash = $1
		LIMIT 1
	`

	var apiKey APIKey

	err := s.conn.QueryRowContext(ctx, query, lookupHash).Scan(
		&apiKey.ID,
		&apiKey.Key, // secret_hash (bcrypt), reused for comparison below
		&apiKey.OrgID,
		&apiKey.PrincipalType,
		&apiKey.Name,
		&apiKey.CreatedAt,
		&apiKey.RevokedAt,
		&apiKey.Active,
	)
	if err != nil {
		return nil, false
	}

	if !CompareAPIKeyHash(apiKey.Key, key) {
		s.logger.Warn("key lookup hash matched but bcrypt verification failed",
			slog.String("key_id", apiKey.ID),
			slog.String("org_id", apiKey.OrgID),
		)

		return nil, false
	}

	apiKey.Key = MaskKey(key)

	return &apiKey, true
}

// Add stores a new API key with bcrypt hashing and SHA256 lookup hashing.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	if existing, found := s.FindByKey(ctx, apiKey.Key); found && existing != nil {
		return ErrKeyAlreadyExists
	}

	lookupHash := ComputeKeyLookupHash(apiKey.Key)

	secretHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, org_id, principal_type, lookup_hash, secret_hash, name, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.conn.ExecContext(
		ctx,
		query,
		apiKey.ID,
		apiKey.OrgID,
		apiKey.PrincipalType,
		lookupHash,
		secretHash,
		apiKey.Name,
		apiKey.Active,
		apiKey.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}

	return nil
}

// Update modifies an existing API key's name and active status. The secret
// hash itself cannot be updated for security reasons.
func (s *PersistentKeyStore) Update(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	if apiKey.ID == "" {
		return ErrKeyNotFound
	}

	query := `
		UPDATE api_keys
		SET name = $1, active = $2
		WHERE id = $3
	`

	result, err := s.conn.ExecContext(ctx, query, apiKey.Name, apiKey.Active, apiKey.ID)
	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	return nil
}

// Delete revokes an API key by setting active=false and stamping revoked_at.
// The key is not physically removed, preserving the audit trail.
func (s *PersistentKeyStore) Delete(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNotFound
	}

	query := `
		UPDATE api_keys
		SET active = FALSE, revoked_at = now()
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	return nil
}

// ListByOrg returns all active API keys for a specific organization.
func (s *PersistentKeyStore) ListByOrg(ctx context.Context, orgID string) ([]*APIKey, error) {
	if orgID == "" {
		return nil, ErrOrgIDEmpty
	}

	query := `
		SELECT id, secret_hash, org_id, principal_type, name, created_at, revoked_at, active
		FROM api_keys
		WHERE org_id = $1 AND active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var keys []*APIKey

	for rows.Next() {
		var apiKey APIKey

		err := rows.Scan(
			&apiKey.ID,
			&apiKey.Key,
			&apiKey.OrgID,
			&apiKey.PrincipalType,
			&apiKey.Name,
			&apiKey.CreatedAt,
			&apiKey.RevokedAt,
			&apiKey.Active,
		)
		if err != nil {
			continue
		}

		apiKey.Key = MaskKey(apiKey.Key)

		keys = append(keys, &apiKey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if keys == nil {
		keys = []*APIKey{}
	}

	return keys, nil
}

// HealthCheck verifies the underlying connection is reachable.
func (s *PersistentKeyStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}
