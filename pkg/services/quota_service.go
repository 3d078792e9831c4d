package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// QuotaService tracks per-customer daily trace quotas. Counters are keyed by
// (customer_id, UTC day) and only ever grow, so concurrent replicas stay
// consistent.
type QuotaService struct {
	db *sql.DB
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(db *sql.DB) *QuotaService {
	if db == nil {
		panic("NewQuotaService: db must not be nil")
	}
	return &QuotaService{db: db}
}

// Consume atomically adds n to the customer's counter for the current UTC
// day and returns the total after the increment. Callers compare the total
// against the configured quota; the increment itself never fails on
// overconsumption (the receiver rejects the spans instead, keeping the
// counter an honest record of attempts).
func (s *QuotaService) Consume(ctx context.Context, customerID string, n int) (int64, error) {
	day := time.Now().UTC().Truncate(24 * time.Hour)

	const q = `
		INSERT INTO ingest_quotas (customer_id, quota_day, used)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, quota_day)
		DO UPDATE SET used = ingest_quotas.used + EXCLUDED.used
		RETURNING used`

	var used int64
	if err := s.db.QueryRowContext(ctx, q, customerID, day, n).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to consume quota: %w", err)
	}
	return used, nil
}

// Used returns the customer's counter for the current UTC day.
func (s *QuotaService) Used(ctx context.Context, customerID string) (int64, error) {
	day := time.Now().UTC().Truncate(24 * time.Hour)

	var used int64
	err := s.db.QueryRowContext(ctx,
		"SELECT used FROM ingest_quotas WHERE customer_id = $1 AND quota_day = $2",
		customerID, day,
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	return used, nil
}

// DeleteOlderThan removes quota counters for days before cutoff.
func (s *QuotaService) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM ingest_quotas WHERE quota_day < $1", cutoff.UTC().Truncate(24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old quotas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
