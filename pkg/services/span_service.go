package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spanlight/spanlight/pkg/models"
)

// spanColumns is the select list shared by every span query, in scanSpan order.
const spanColumns = `trace_id, span_id, parent_span_id, customer_id, service_name,
	endpoint, environment, ts, latency_ms, model, provider, prompt, response,
	prompt_tokens, completion_tokens, tokens, cost_usd, response_hash,
	semantic_score, hash_similarity, semantic_scored_at, semantic_cached,
	metadata, tags, status, error_message`

// SpanService persists and reads spans.
type SpanService struct {
	db *sql.DB
}

// NewSpanService creates a new SpanService.
func NewSpanService(db *sql.DB) *SpanService {
	if db == nil {
		panic("NewSpanService: db must not be nil")
	}
	return &SpanService{db: db}
}

// UpsertBatch writes spans in arrival order inside one transaction. On a
// (trace_id, span_id) conflict only timestamp, latency_ms, and status are
// overwritten; body fields stay as first written. This keeps redelivered
// batches idempotent.
func (s *SpanService) UpsertBatch(ctx context.Context, spans []*models.Span) error {
	if len(spans) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO spans (
			trace_id, span_id, parent_span_id, customer_id, service_name,
			endpoint, environment, ts, latency_ms, model, provider, prompt,
			response, prompt_tokens, completion_tokens, tokens, cost_usd,
			response_hash, semantic_score, hash_similarity, semantic_scored_at,
			semantic_cached, metadata, tags, status, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)
		ON CONFLICT (trace_id, span_id) DO UPDATE SET
			ts = EXCLUDED.ts,
			latency_ms = EXCLUDED.latency_ms,
			status = EXCLUDED.status`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to prepare span upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, sp := range spans {
		metadata, err := json.Marshal(sp.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for span %s/%s: %w", sp.TraceID, sp.SpanID, err)
		}
		tags := sp.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags for span %s/%s: %w", sp.TraceID, sp.SpanID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			sp.TraceID, sp.SpanID, sp.ParentSpanID, sp.CustomerID, sp.ServiceName,
			sp.Endpoint, string(sp.Environment), sp.Timestamp.UTC(), sp.LatencyMS,
			sp.Model, string(sp.Provider), sp.Prompt, sp.Response,
			sp.PromptTokens, sp.CompletionTokens, sp.Tokens, sp.CostUSD,
			sp.ResponseHash, sp.SemanticScore, sp.HashSimilarity,
			sp.SemanticScoredAt, sp.SemanticCached, metadata, tagsJSON,
			string(sp.Status), sp.ErrorMessage,
		); err != nil {
			return fmt.Errorf("failed to upsert span %s/%s: %w", sp.TraceID, sp.SpanID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit span batch: %w", err)
	}
	return nil
}

// List returns a page of spans matching the filters, newest first.
func (s *SpanService) List(ctx context.Context, customerID string, filters models.SpanFilters) (*models.SpanPage, error) {
	where := []string{"customer_id = $1"}
	args := []any{customerID}

	addArg := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filters.ServiceName != "" {
		addArg("service_name = $%d", filters.ServiceName)
	}
	if filters.Endpoint != "" {
		addArg("endpoint LIKE $%d", filters.Endpoint+"%")
	}
	if filters.Model != "" {
		addArg("model = $%d", filters.Model)
	}
	if filters.Status != "" {
		addArg("status = $%d", string(filters.Status))
	}
	if filters.Environment != "" {
		addArg("environment = $%d", string(filters.Environment))
	}
	if filters.StartTime != nil {
		addArg("ts >= $%d", filters.StartTime.UTC())
	}
	if filters.EndTime != nil {
		addArg("ts <= $%d", filters.EndTime.UTC())
	}

	cond := strings.Join(where, " AND ")

	var total int
	countQ := "SELECT COUNT(*) FROM spans WHERE " + cond
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count spans: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	listQ := fmt.Sprintf(
		"SELECT %s FROM spans WHERE %s ORDER BY ts DESC LIMIT $%d OFFSET $%d",
		spanColumns, cond, len(args)-1, len(args),
	)

	rows, err := s.db.QueryContext(ctx, listQ, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	spans, err := collectSpans(rows)
	if err != nil {
		return nil, err
	}

	return &models.SpanPage{
		Data:       spans,
		Pagination: models.Pagination{Total: total, Limit: limit, Offset: offset},
	}, nil
}

// GetTraceSpans returns every span of a trace, oldest first.
func (s *SpanService) GetTraceSpans(ctx context.Context, traceID string) ([]*models.Span, error) {
	q := fmt.Sprintf("SELECT %s FROM spans WHERE trace_id = $1 ORDER BY ts ASC, span_id ASC", spanColumns)
	rows, err := s.db.QueryContext(ctx, q, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace spans: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectSpans(rows)
}

// GetTracesByIDs bulk-fetches whole traces, keyed by trace_id. Used by the
// replay engine to capture span sets for re-execution.
func (s *SpanService) GetTracesByIDs(ctx context.Context, traceIDs []string) (map[string][]*models.Span, error) {
	if len(traceIDs) == 0 {
		return map[string][]*models.Span{}, nil
	}
	q := fmt.Sprintf("SELECT %s FROM spans WHERE trace_id = ANY($1) ORDER BY trace_id, ts ASC, span_id ASC", spanColumns)
	rows, err := s.db.QueryContext(ctx, q, traceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	spans, err := collectSpans(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*models.Span, len(traceIDs))
	for _, sp := range spans {
		out[sp.TraceID] = append(out[sp.TraceID], sp)
	}
	return out, nil
}

// UpdateQualitySignals persists the scorer's verdict for an already-written
// span. Nil pointers leave the corresponding column untouched.
func (s *SpanService) UpdateQualitySignals(ctx context.Context, traceID, spanID string, semanticScore, hashSimilarity *float64) error {
	if semanticScore == nil && hashSimilarity == nil {
		return nil
	}
	const q = `
		UPDATE spans SET
			semantic_score = COALESCE($3, semantic_score),
			hash_similarity = COALESCE($4, hash_similarity),
			semantic_scored_at = CASE WHEN $3 IS NOT NULL THEN now() ELSE semantic_scored_at END
		WHERE trace_id = $1 AND span_id = $2`
	if _, err := s.db.ExecContext(ctx, q, traceID, spanID, semanticScore, hashSimilarity); err != nil {
		return fmt.Errorf("failed to update quality signals: %w", err)
	}
	return nil
}

// DeleteOlderThan removes spans with a timestamp before cutoff. Dependent
// alert and replay rows are removed by the ON DELETE CASCADE constraints.
func (s *SpanService) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM spans WHERE ts < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired spans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

func collectSpans(rows *sql.Rows) ([]*models.Span, error) {
	var spans []*models.Span
	for rows.Next() {
		sp, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate spans: %w", err)
	}
	return spans, nil
}

func scanSpan(rows *sql.Rows) (*models.Span, error) {
	var (
		sp           models.Span
		parent       sql.NullString
		env          string
		provider     string
		status       string
		semScore     sql.NullFloat64
		hashSim      sql.NullFloat64
		scoredAt     sql.NullTime
		metadataJSON []byte
		tagsJSON     []byte
	)

	if err := rows.Scan(
		&sp.TraceID, &sp.SpanID, &parent, &sp.CustomerID, &sp.ServiceName,
		&sp.Endpoint, &env, &sp.Timestamp, &sp.LatencyMS, &sp.Model, &provider,
		&sp.Prompt, &sp.Response, &sp.PromptTokens, &sp.CompletionTokens,
		&sp.Tokens, &sp.CostUSD, &sp.ResponseHash, &semScore, &hashSim,
		&scoredAt, &sp.SemanticCached, &metadataJSON, &tagsJSON, &status,
		&sp.ErrorMessage,
	); err != nil {
		return nil, fmt.Errorf("failed to scan span: %w", err)
	}

	if parent.Valid {
		sp.ParentSpanID = &parent.String
	}
	sp.Environment = models.Environment(env)
	sp.Provider = models.Provider(provider)
	sp.Status = models.SpanStatus(status)
	if semScore.Valid {
		sp.SemanticScore = &semScore.Float64
	}
	if hashSim.Valid {
		sp.HashSimilarity = &hashSim.Float64
	}
	if scoredAt.Valid {
		t := scoredAt.Time
		sp.SemanticScoredAt = &t
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal span metadata: %w", err)
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &sp.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal span tags: %w", err)
		}
	}
	return &sp, nil
}
