package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spanlight/spanlight/pkg/models"
)

// BaselineService persists rolling percentile rows computed by the baseline
// engine.
type BaselineService struct {
	db *sql.DB
}

// NewBaselineService creates a new BaselineService.
func NewBaselineService(db *sql.DB) *BaselineService {
	if db == nil {
		panic("NewBaselineService: db must not be nil")
	}
	return &BaselineService{db: db}
}

// Upsert writes a baseline row. last_updated is monotonic: a write carrying
// an older timestamp than the stored row is a no-op.
func (s *BaselineService) Upsert(ctx context.Context, b *models.CostBaseline) error {
	const q = `
		INSERT INTO cost_baselines (
			service_name, endpoint, window_size, p50_cost, p95_cost, p99_cost,
			p50_latency_ms, p95_latency_ms, p99_latency_ms, sample_count,
			last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (service_name, endpoint, window_size) DO UPDATE SET
			p50_cost = EXCLUDED.p50_cost,
			p95_cost = EXCLUDED.p95_cost,
			p99_cost = EXCLUDED.p99_cost,
			p50_latency_ms = EXCLUDED.p50_latency_ms,
			p95_latency_ms = EXCLUDED.p95_latency_ms,
			p99_latency_ms = EXCLUDED.p99_latency_ms,
			sample_count = EXCLUDED.sample_count,
			last_updated = EXCLUDED.last_updated
		WHERE cost_baselines.last_updated <= EXCLUDED.last_updated`

	if _, err := s.db.ExecContext(ctx, q,
		b.ServiceName, b.Endpoint, string(b.WindowSize),
		b.P50Cost, b.P95Cost, b.P99Cost,
		b.P50LatencyMS, b.P95LatencyMS, b.P99LatencyMS,
		b.SampleCount, b.LastUpdated.UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert baseline: %w", err)
	}
	return nil
}

// Get returns the baseline row for one key, or ErrNotFound.
func (s *BaselineService) Get(ctx context.Context, serviceName, endpoint string, window models.WindowSize) (*models.CostBaseline, error) {
	const q = `
		SELECT service_name, endpoint, window_size, p50_cost, p95_cost,
		       p99_cost, p50_latency_ms, p95_latency_ms, p99_latency_ms,
		       sample_count, last_updated
		FROM cost_baselines
		WHERE service_name = $1 AND endpoint = $2 AND window_size = $3`

	var (
		b  models.CostBaseline
		ws string
	)
	err := s.db.QueryRowContext(ctx, q, serviceName, endpoint, string(window)).Scan(
		&b.ServiceName, &b.Endpoint, &ws, &b.P50Cost, &b.P95Cost,
		&b.P99Cost, &b.P50LatencyMS, &b.P95LatencyMS, &b.P99LatencyMS,
		&b.SampleCount, &b.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline: %w", err)
	}
	b.WindowSize = models.WindowSize(ws)
	return &b, nil
}

// DeleteStale garbage-collects baseline rows whose last_updated is older
// than maxAge (the widest window by default).
func (s *BaselineService) DeleteStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cost_baselines WHERE last_updated < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale baselines: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
