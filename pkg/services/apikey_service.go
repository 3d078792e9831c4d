package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// APIKeyService resolves bearer credentials to customer IDs. Keys are stored
// hashed; the core treats everything beyond the customer_id mapping as
// opaque.
type APIKeyService struct {
	db *sql.DB
}

// NewAPIKeyService creates a new APIKeyService.
func NewAPIKeyService(db *sql.DB) *APIKeyService {
	if db == nil {
		panic("NewAPIKeyService: db must not be nil")
	}
	return &APIKeyService{db: db}
}

// HashKey returns the storage form of an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Resolve maps a raw API key to its customer_id. Revoked or unknown keys
// return ErrNotFound.
func (s *APIKeyService) Resolve(ctx context.Context, key string) (string, error) {
	var customerID string
	err := s.db.QueryRowContext(ctx, `
		SELECT customer_id FROM api_keys
		WHERE key_hash = $1 AND revoked_at IS NULL`,
		HashKey(key),
	).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve api key: %w", err)
	}
	return customerID, nil
}

// Register stores a key for a customer, creating the customer row if needed.
// Used by provisioning and test fixtures.
func (s *APIKeyService) Register(ctx context.Context, customerID, name, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO customers (customer_id, name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id) DO NOTHING`,
		customerID, name, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO api_keys (key_hash, customer_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key_hash) DO NOTHING`,
		HashKey(key), customerID, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit key registration: %w", err)
	}
	return nil
}

// Revoke marks a key as revoked so Resolve stops honoring it.
func (s *APIKeyService) Revoke(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET revoked_at = now() WHERE key_hash = $1 AND revoked_at IS NULL",
		HashKey(key))
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
