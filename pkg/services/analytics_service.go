package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spanlight/spanlight/pkg/models"
)

// AnalyticsService serves the aggregated read-side: timelines, breakdowns,
// percentiles, and summaries. All heavy lifting is pushed into SQL.
type AnalyticsService struct {
	db *sql.DB
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(db *sql.DB) *AnalyticsService {
	if db == nil {
		panic("NewAnalyticsService: db must not be nil")
	}
	return &AnalyticsService{db: db}
}

// defaultRange fills unbounded range ends: last 24 hours up to now.
func defaultRange(r models.TimeRange) models.TimeRange {
	if r.End.IsZero() {
		r.End = time.Now().UTC()
	}
	if r.Start.IsZero() {
		r.Start = r.End.Add(-24 * time.Hour)
	}
	return r
}

// Timeline returns time-bucketed aggregates for the range. Empty buckets
// inside the range are emitted with zero values via generate_series.
func (s *AnalyticsService) Timeline(ctx context.Context, customerID string, r models.TimeRange, granularity models.Granularity) ([]*models.TimelinePoint, error) {
	if !granularity.Valid() {
		return nil, NewValidationError("granularity", fmt.Sprintf("unknown granularity '%s'", granularity))
	}
	r = defaultRange(r)

	// granularity values map directly onto date_trunc field names; the
	// interval literal is derived from the same vetted set, never from
	// caller input.
	unit := string(granularity)
	q := fmt.Sprintf(`
		WITH buckets AS (
			SELECT generate_series(
				date_trunc('%[1]s', $2::timestamptz),
				date_trunc('%[1]s', $3::timestamptz),
				'1 %[1]s'::interval
			) AS bucket
		),
		agg AS (
			SELECT date_trunc('%[1]s', ts) AS bucket,
			       COUNT(*) AS cnt,
			       COALESCE(SUM(cost_usd), 0) AS total_cost,
			       COALESCE(AVG(latency_ms), 0) AS avg_latency,
			       COALESCE(SUM(tokens), 0) AS total_tokens
			FROM spans
			WHERE customer_id = $1 AND ts >= $2 AND ts <= $3
			GROUP BY 1
		)
		SELECT b.bucket,
		       COALESCE(a.cnt, 0),
		       COALESCE(a.total_cost, 0),
		       COALESCE(a.avg_latency, 0),
		       COALESCE(a.total_tokens, 0)
		FROM buckets b
		LEFT JOIN agg a ON a.bucket = b.bucket
		ORDER BY b.bucket`, unit)

	rows, err := s.db.QueryContext(ctx, q, customerID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []*models.TimelinePoint
	for rows.Next() {
		var p models.TimelinePoint
		if err := rows.Scan(&p.Bucket, &p.Count, &p.TotalCost, &p.AvgLatencyMS, &p.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan timeline point: %w", err)
		}
		points = append(points, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate timeline: %w", err)
	}
	return points, nil
}

// Breakdown groups the range by one dimension, ordered by total cost
// descending and capped at limit (default 50).
func (s *AnalyticsService) Breakdown(ctx context.Context, customerID string, dimension models.Dimension, r models.TimeRange, limit int) ([]*models.BreakdownRow, error) {
	if !dimension.Valid() {
		return nil, NewValidationError("dimension", fmt.Sprintf("unknown dimension '%s'", dimension))
	}
	r = defaultRange(r)
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	var column string
	switch dimension {
	case models.DimensionService:
		column = "service_name"
	case models.DimensionModel:
		column = "model"
	case models.DimensionEndpoint:
		column = "endpoint"
	case models.DimensionProvider:
		column = "provider"
	}

	q := fmt.Sprintf(`
		SELECT %s,
		       COUNT(*),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(SUM(tokens), 0)
		FROM spans
		WHERE customer_id = $1 AND ts >= $2 AND ts <= $3
		GROUP BY 1
		ORDER BY 3 DESC
		LIMIT $4`, column)

	rows, err := s.db.QueryContext(ctx, q, customerID, r.Start, r.End, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query breakdown: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.BreakdownRow
	for rows.Next() {
		var row models.BreakdownRow
		if err := rows.Scan(&row.Dimension, &row.Count, &row.TotalCost, &row.AvgLatencyMS, &row.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan breakdown row: %w", err)
		}
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate breakdown: %w", err)
	}
	return out, nil
}

// PercentileFilters narrows the percentile computation. Empty fields match
// everything.
type PercentileFilters struct {
	ServiceName string
	Endpoint    string
}

// Percentiles computes continuous (interpolated) cost and latency percentiles
// over the filtered span set.
func (s *AnalyticsService) Percentiles(ctx context.Context, customerID string, f PercentileFilters, r models.TimeRange) (*models.Percentiles, error) {
	r = defaultRange(r)

	where := "customer_id = $1 AND ts >= $2 AND ts <= $3"
	args := []any{customerID, r.Start, r.End}
	if f.ServiceName != "" {
		args = append(args, f.ServiceName)
		where += fmt.Sprintf(" AND service_name = $%d", len(args))
	}
	if f.Endpoint != "" {
		args = append(args, f.Endpoint)
		where += fmt.Sprintf(" AND endpoint = $%d", len(args))
	}

	q := `
		SELECT
			COALESCE(percentile_cont(0.50) WITHIN GROUP (ORDER BY cost_usd), 0),
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY cost_usd), 0),
			COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY cost_usd), 0),
			COALESCE(percentile_cont(0.50) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY latency_ms), 0)
		FROM spans WHERE ` + where

	var p models.Percentiles
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(
		&p.Cost.P50, &p.Cost.P95, &p.Cost.P99,
		&p.LatencyMS.P50, &p.LatencyMS.P95, &p.LatencyMS.P99,
	); err != nil {
		return nil, fmt.Errorf("failed to query percentiles: %w", err)
	}
	return &p, nil
}

// Summary returns the top-line aggregate for the range.
func (s *AnalyticsService) Summary(ctx context.Context, customerID string, r models.TimeRange) (*models.Summary, error) {
	r = defaultRange(r)

	const q = `
		SELECT COUNT(*),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(AVG(cost_usd), 0),
		       COALESCE(SUM(tokens), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(AVG(CASE WHEN status = 'error' THEN 1.0 ELSE 0.0 END), 0),
		       COUNT(DISTINCT service_name),
		       COUNT(DISTINCT model)
		FROM spans
		WHERE customer_id = $1 AND ts >= $2 AND ts <= $3`

	var sum models.Summary
	if err := s.db.QueryRowContext(ctx, q, customerID, r.Start, r.End).Scan(
		&sum.TotalRequests, &sum.TotalCost, &sum.AvgCost, &sum.TotalTokens,
		&sum.AvgLatencyMS, &sum.ErrorRate, &sum.UniqueServices, &sum.UniqueModels,
	); err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	return &sum, nil
}
