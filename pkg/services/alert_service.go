package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spanlight/spanlight/pkg/models"
)

const alertColumns = `alert_id, customer_id, trace_id, span_id, service_name,
	endpoint, alert_type, severity, current_cost, baseline_cost,
	cost_increase_percent, hash_similarity, semantic_score, scoring_method,
	reasoning, status, occurrences, created_at, acknowledged_at, resolved_at`

// AlertService persists anomaly classifications and drives their state
// machine.
type AlertService struct {
	db *sql.DB
}

// NewAlertService creates a new AlertService.
func NewAlertService(db *sql.DB) *AlertService {
	if db == nil {
		panic("NewAlertService: db must not be nil")
	}
	return &AlertService{db: db}
}

// Create inserts an alert after a dedup check: if a pending or sent alert for
// the same (customer, service, endpoint, type) exists within the dedup
// window, no row is inserted and the existing alert's occurrence counter is
// bumped instead. Returns the surviving alert and whether it was newly
// created.
func (s *AlertService) Create(ctx context.Context, alert *models.Alert, dedupWindow time.Duration) (*models.Alert, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Dedup lookup with a row lock so two workers classifying the same
	// minute cannot both insert.
	const dedupQ = `
		SELECT alert_id FROM alerts
		WHERE customer_id = $1 AND service_name = $2 AND endpoint = $3
		  AND alert_type = $4 AND status IN ('pending', 'sent')
		  AND created_at > $5
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`

	cutoff := time.Now().UTC().Add(-dedupWindow)
	var existingID string
	err = tx.QueryRowContext(ctx, dedupQ,
		alert.CustomerID, alert.ServiceName, alert.Endpoint,
		string(alert.AlertType), cutoff,
	).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			"UPDATE alerts SET occurrences = occurrences + 1 WHERE alert_id = $1",
			existingID,
		); err != nil {
			return nil, false, fmt.Errorf("failed to bump alert occurrences: %w", err)
		}
		existing, err := getAlertTx(ctx, tx, existingID)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit dedup update: %w", err)
		}
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("failed to check alert dedup: %w", err)
	}

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.ScoringMethod == "" {
		alert.ScoringMethod = models.ScoringHashOnly
	}
	alert.Status = models.AlertStatusPending
	alert.Occurrences = 1
	alert.CreatedAt = time.Now().UTC()

	const insertQ = `
		INSERT INTO alerts (
			alert_id, customer_id, trace_id, span_id, service_name, endpoint,
			alert_type, severity, current_cost, baseline_cost,
			cost_increase_percent, hash_similarity, semantic_score,
			scoring_method, reasoning, status, occurrences, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18)`

	if _, err := tx.ExecContext(ctx, insertQ,
		alert.ID, alert.CustomerID, alert.TraceID, alert.SpanID,
		alert.ServiceName, alert.Endpoint, string(alert.AlertType),
		string(alert.Severity), alert.CurrentCost, alert.BaselineCost,
		alert.CostIncreasePercent, alert.HashSimilarity, alert.SemanticScore,
		string(alert.ScoringMethod), alert.Reasoning, string(alert.Status),
		alert.Occurrences, alert.CreatedAt,
	); err != nil {
		return nil, false, fmt.Errorf("failed to insert alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit alert insert: %w", err)
	}
	return alert, true, nil
}

// Get returns one alert by ID.
func (s *AlertService) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM alerts WHERE alert_id = $1", alertColumns), alertID)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// List returns alerts matching the filters, newest first.
func (s *AlertService) List(ctx context.Context, filters models.AlertFilters) ([]*models.Alert, error) {
	where := []string{"customer_id = $1"}
	args := []any{filters.CustomerID}

	addArg := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filters.Status != "" {
		addArg("status = $%d", string(filters.Status))
	}
	if filters.Severity != "" {
		addArg("severity = $%d", string(filters.Severity))
	}
	if filters.AlertType != "" {
		addArg("alert_type = $%d", string(filters.AlertType))
	}

	limit := filters.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	q := fmt.Sprintf(
		"SELECT %s FROM alerts WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		alertColumns, strings.Join(where, " AND "), len(args)-1, len(args),
	)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// UpdateStatus moves an alert through its state machine. Illegal transitions
// (including any move out of resolved) return ErrInvalidTransition.
func (s *AlertService) UpdateStatus(ctx context.Context, alertID string, next models.AlertStatus) (*models.Alert, error) {
	if !next.Valid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status '%s'", next))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM alerts WHERE alert_id = $1 FOR UPDATE", alertID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert status: %w", err)
	}

	if !models.AlertStatus(current).CanTransitionTo(next) {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	q := "UPDATE alerts SET status = $1"
	args := []any{string(next)}
	switch next {
	case models.AlertStatusAcknowledged:
		args = append(args, now)
		q += fmt.Sprintf(", acknowledged_at = $%d", len(args))
	case models.AlertStatusResolved:
		args = append(args, now)
		q += fmt.Sprintf(", resolved_at = $%d", len(args))
	}
	args = append(args, alertID)
	q += fmt.Sprintf(" WHERE alert_id = $%d", len(args))

	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("failed to update alert status: %w", err)
	}

	updated, err := getAlertTx(ctx, tx, alertID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}
	return updated, nil
}

// BumpOccurrence increments the duplicate counter on an existing alert.
// Used by the in-memory dedup fast path.
func (s *AlertService) BumpOccurrence(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET occurrences = occurrences + 1 WHERE alert_id = $1", alertID)
	if err != nil {
		return fmt.Errorf("failed to bump alert occurrences: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireStale force-resolves non-terminal alerts older than maxAge.
// Idempotent; run by the cleanup sweep.
func (s *AlertService) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_at = now()
		WHERE status IN ('pending', 'sent', 'acknowledged') AND created_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getAlertTx(ctx context.Context, tx *sql.Tx, alertID string) (*models.Alert, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM alerts WHERE alert_id = $1", alertColumns), alertID)
	return scanAlert(row)
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a         models.Alert
		alertType string
		severity  string
		scoring   string
		status    string
		hashSim   sql.NullFloat64
		semScore  sql.NullFloat64
		ackedAt   sql.NullTime
		resolved  sql.NullTime
	)
	if err := row.Scan(
		&a.ID, &a.CustomerID, &a.TraceID, &a.SpanID, &a.ServiceName,
		&a.Endpoint, &alertType, &severity, &a.CurrentCost, &a.BaselineCost,
		&a.CostIncreasePercent, &hashSim, &semScore, &scoring, &a.Reasoning,
		&status, &a.Occurrences, &a.CreatedAt, &ackedAt, &resolved,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.AlertType = models.AlertType(alertType)
	a.Severity = models.AlertSeverity(severity)
	a.ScoringMethod = models.ScoringMethod(scoring)
	a.Status = models.AlertStatus(status)
	if hashSim.Valid {
		a.HashSimilarity = &hashSim.Float64
	}
	if semScore.Valid {
		a.SemanticScore = &semScore.Float64
	}
	if ackedAt.Valid {
		t := ackedAt.Time
		a.AcknowledgedAt = &t
	}
	if resolved.Valid {
		t := resolved.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}
