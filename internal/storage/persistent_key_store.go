package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// PersistentKeyStore implements KeyStore with a PostgreSQL backend. Keys
// are stored as bcrypt hashes; plaintext never reaches the database.
type PersistentKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time check that the persistent store satisfies KeyStore.
var _ KeyStore = (*PersistentKeyStore)(nil)

// NewPersistentKeyStore creates a PostgreSQL-backed key store on an
// established connection.
func NewPersistentKeyStore(conn *Connection, logger *slog.Logger) *PersistentKeyStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PersistentKeyStore{
		conn:   conn,
		logger: logger.With("component", "key_store"),
	}
}

// FindByKey retrieves an API key by its key value using bcrypt hash
// comparison. Because every stored hash carries its own salt, lookup
// scans all active keys and compares in memory; acceptable at the small
// key counts a read API carries.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, key_hash, owner, name, created_at, expires_at, active
		FROM api_keys
		WHERE active = TRUE
	`)
	if err != nil {
		s.logger.Error("key lookup query failed", "error", err)

		return nil, false
	}

	defer func() {
		_ = rows.Close()
	}()

	var found *APIKey

	for rows.Next() {
		var apiKey APIKey

		err := rows.Scan(
			&apiKey.ID,
			&apiKey.Key, // the stored hash; compared, then masked
			&apiKey.Owner,
			&apiKey.Name,
			&apiKey.CreatedAt,
			&apiKey.ExpiresAt,
			&apiKey.Active,
		)
		if err != nil {
			continue
		}

		if CompareAPIKeyHash(apiKey.Key, key) {
			apiKey.Key = MaskKey(apiKey.Key)
			found = &apiKey

			break
		}
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("key lookup failed", "error", err)

		return nil, false
	}

	return found, found != nil
}

// Add stores a new API key, hashing it with bcrypt first.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	// Bcrypt salts make equal keys hash differently, so duplicates can
	// only be caught by comparison against existing active keys.
	if existing, ok := s.FindByKey(ctx, apiKey.Key); ok && existing != nil {
		return ErrKeyAlreadyExists
	}

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, owner, name, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		apiKey.ID,
		keyHash,
		apiKey.Owner,
		apiKey.Name,
		apiKey.CreatedAt,
		apiKey.ExpiresAt,
		apiKey.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}

	s.logger.Info("api key added", "id", apiKey.ID, "owner", apiKey.Owner)

	return nil
}

// Delete performs a soft delete by setting active=FALSE. Rows stay in
// the table for audit purposes.
func (s *PersistentKeyStore) Delete(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNotFound
	}

	result, err := s.conn.ExecContext(ctx,
		`UPDATE api_keys SET active = FALSE WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	s.logger.Info("api key deactivated", "id", keyID)

	return nil
}

// ListByOwner returns all active API keys for a consumer, newest first.
// Key hashes are masked before return.
func (s *PersistentKeyStore) ListByOwner(ctx context.Context, owner string) ([]*APIKey, error) {
	if owner == "" {
		return nil, ErrOwnerEmpty
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, key_hash, owner, name, created_at, expires_at, active
		FROM api_keys
		WHERE owner = $1 AND active = TRUE
		ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	keys := []*APIKey{}

	for rows.Next() {
		var apiKey APIKey

		err := rows.Scan(
			&apiKey.ID,
			&apiKey.Key,
			&apiKey.Owner,
			&apiKey.Name,
			&apiKey.CreatedAt,
			&apiKey.ExpiresAt,
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

	return keys, nil
}
