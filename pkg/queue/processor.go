package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spanlight/spanlight/pkg/baseline"
	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/fingerprint"
	"github.com/spanlight/spanlight/pkg/logthrottle"
	"github.com/spanlight/spanlight/pkg/models"
	"github.com/spanlight/spanlight/pkg/pricing"
	"github.com/spanlight/spanlight/pkg/services"
)

// SpanProcessor is the per-span pipeline: normalize, price, fingerprint,
// persist, then feed the baseline engine.
type SpanProcessor struct {
	cfg     *config.QueueConfig
	pricing *pricing.Table
	spans   *services.SpanService
	engine  *baseline.Engine
	latency *storeLatency
	gate    *logthrottle.Gate
}

// NewSpanProcessor creates the pipeline. latency receives one sample per
// store round-trip and drives the pool's pull slowdown.
func NewSpanProcessor(
	cfg *config.QueueConfig,
	table *pricing.Table,
	spans *services.SpanService,
	engine *baseline.Engine,
	latency *storeLatency,
) *SpanProcessor {
	return &SpanProcessor{
		cfg:     cfg,
		pricing: table,
		spans:   spans,
		engine:  engine,
		latency: latency,
		gate:    logthrottle.New(time.Minute),
	}
}

// Process runs the pipeline for one batch. A returned error means the batch
// should be redelivered; constraint violations are resolved span-by-span
// inside instead, dropping only the offending spans.
func (p *SpanProcessor) Process(ctx context.Context, batch *Batch) error {
	for _, span := range batch.Spans {
		p.enrich(span)
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := p.spans.UpsertBatch(storeCtx, batch.Spans)
	p.latency.Record(time.Since(start))

	persisted := batch.Spans
	if err != nil {
		if !isConstraintViolation(err) {
			return fmt.Errorf("failed to persist batch %s: %w", batch.ID, err)
		}
		// One bad span poisons the whole transaction; retry individually
		// and drop only the offenders.
		persisted = p.persistIndividually(ctx, batch)
	}

	for _, span := range persisted {
		p.engine.Observe(span)
		if _, err := p.engine.Evaluate(ctx, span); err != nil && p.gate.Allow("evaluate") {
			slog.Error("Anomaly evaluation failed",
				"trace_id", span.TraceID, "span_id", span.SpanID, "error", err)
		}
	}
	return nil
}

// enrich fills derived fields: provider from the model name, default
// environment, summed tokens, computed cost, and the response fingerprint.
func (p *SpanProcessor) enrich(span *models.Span) {
	if span.Provider == "" || !span.Provider.Valid() {
		span.Provider = pricing.InferProvider(span.Model)
	}
	if span.Environment == "" {
		span.Environment = models.EnvironmentLive
	}
	if span.Tokens == 0 {
		span.Tokens = span.PromptTokens + span.CompletionTokens
	}
	if span.Tags == nil {
		span.Tags = []string{}
	}

	if span.CostUSD == 0 && span.Tokens > 0 {
		rates, known := p.pricing.Lookup(span.Provider, span.Model)
		span.CostUSD = rates.Cost(span.PromptTokens, span.CompletionTokens)
		if !known {
			if span.Metadata == nil {
				span.Metadata = make(map[string]any)
			}
			span.Metadata["cost_uncertain"] = true
		}
	}

	if span.ResponseHash == "" {
		span.ResponseHash = fingerprint.Response(span.Response)
	}
}

// persistIndividually writes each span of a failed batch in its own
// transaction, returning the spans that made it into the store.
func (p *SpanProcessor) persistIndividually(ctx context.Context, batch *Batch) []*models.Span {
	persisted := make([]*models.Span, 0, len(batch.Spans))
	for _, span := range batch.Spans {
		storeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		err := p.spans.UpsertBatch(storeCtx, []*models.Span{span})
		cancel()
		if err != nil {
			slog.Warn("Dropping span rejected by the store",
				"batch_id", batch.ID,
				"trace_id", span.TraceID,
				"span_id", span.SpanID,
				"error", err)
			continue
		}
		persisted = append(persisted, span)
	}
	return persisted
}

// isConstraintViolation reports whether the error is a Postgres integrity
// violation (SQLSTATE class 23), which redelivery cannot fix.
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23"
}
