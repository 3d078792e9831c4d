package baseline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/models"
	"github.com/spanlight/spanlight/pkg/scorer"
	"github.com/spanlight/spanlight/pkg/services"
	testdb "github.com/spanlight/spanlight/test/database"
)

type stubScorer struct {
	result *scorer.Result
	err    error
}

func (s *stubScorer) Score(_ context.Context, _ *models.Span) (*scorer.Result, error) {
	return s.result, s.err
}

type engineHarness struct {
	engine    *Engine
	spans     *services.SpanService
	alerts    *services.AlertService
	baselines *services.BaselineService
}

func newEngineHarness(t *testing.T, sc scorer.Scorer) *engineHarness {
	t.Helper()
	client := testdb.NewTestClient(t)
	spans := services.NewSpanService(client.DB())
	alerts := services.NewAlertService(client.DB())
	baselines := services.NewBaselineService(client.DB())

	cfg := config.DefaultBaselineConfig()
	cfg.DedupWindow = time.Minute

	return &engineHarness{
		engine:    NewEngine(cfg, baselines, alerts, spans, sc, slog.Default()),
		spans:     spans,
		alerts:    alerts,
		baselines: baselines,
	}
}

func engineSpan(traceID, spanID, endpoint string, cost float64, mutate ...func(*models.Span)) *models.Span {
	s := &models.Span{
		TraceID:      traceID,
		SpanID:       spanID,
		CustomerID:   "cust-1",
		ServiceName:  "checkout",
		Endpoint:     endpoint,
		Environment:  models.EnvironmentLive,
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		LatencyMS:    100,
		Model:        "gpt-4o",
		Provider:     models.ProviderOpenAI,
		Response:     "the usual answer",
		ResponseHash: "hash-common",
		CostUSD:      cost,
		Status:       models.SpanStatusSuccess,
	}
	for _, m := range mutate {
		m(s)
	}
	return s
}

// warmBaseline observes enough uniform samples for the in-memory 24h view to
// take over from the persisted row.
func warmBaseline(h *engineHarness, endpoint string, n int, cost float64) {
	for i := 0; i < n; i++ {
		h.engine.Observe(engineSpan("warm", "s", endpoint, cost))
	}
}

func TestEngineEvaluateCostSpike(t *testing.T) {
	h := newEngineHarness(t, nil)
	ctx := context.Background()

	warmBaseline(h, "/spike", 20, 0.01)

	spike := engineSpan("t1", "s1", "/spike", 0.10)
	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{spike}))

	emitted, err := h.engine.Evaluate(ctx, spike)
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	a := emitted[0]
	assert.Equal(t, models.AlertTypeCostSpike, a.AlertType)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	assert.Equal(t, 0.10, a.CurrentCost)
	assert.InDelta(t, 0.01, a.BaselineCost, 1e-9)
	assert.InDelta(t, 900, a.CostIncreasePercent, 1e-6)
	assert.Equal(t, models.AlertStatusPending, a.Status)

	t.Run("duplicate within the window is folded in", func(t *testing.T) {
		again := engineSpan("t1", "s2", "/spike", 0.12)
		require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{again}))

		emitted, err := h.engine.Evaluate(ctx, again)
		require.NoError(t, err)
		assert.Empty(t, emitted)

		got, err := h.alerts.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Occurrences)
	})
}

func TestEngineEvaluateLatencySpike(t *testing.T) {
	h := newEngineHarness(t, nil)
	ctx := context.Background()

	warmBaseline(h, "/slow", 20, 0.01)

	slow := engineSpan("t1", "s1", "/slow", 0.01, func(s *models.Span) {
		s.LatencyMS = 350 // between 3x and 5x the 100ms P95
	})
	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{slow}))

	emitted, err := h.engine.Evaluate(ctx, slow)
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Equal(t, models.AlertTypeLatencySpike, emitted[0].AlertType)
	assert.Equal(t, models.SeverityMedium, emitted[0].Severity)
}

func TestEngineEvaluateWithoutBaseline(t *testing.T) {
	h := newEngineHarness(t, nil)
	ctx := context.Background()

	// No in-memory samples and no persisted row: cost and latency rules
	// cannot fire no matter how expensive the span looks.
	span := engineSpan("t1", "s1", "/cold", 99.0)
	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{span}))

	emitted, err := h.engine.Evaluate(ctx, span)
	require.NoError(t, err)
	assert.Empty(t, emitted)
}

func TestEngineFallsBackToPersistedBaseline(t *testing.T) {
	h := newEngineHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.baselines.Upsert(ctx, &models.CostBaseline{
		ServiceName: "checkout",
		Endpoint:    "/persisted",
		WindowSize:  models.Window24h,
		P95Cost:     0.01,
		SampleCount: 500,
		LastUpdated: time.Now().UTC(),
	}))

	spike := engineSpan("t1", "s1", "/persisted", 0.04)
	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{spike}))

	emitted, err := h.engine.Evaluate(ctx, spike)
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Equal(t, models.AlertTypeCostSpike, emitted[0].AlertType)
	assert.Equal(t, models.SeverityMedium, emitted[0].Severity)
}

func TestEngineQualityDrop(t *testing.T) {
	low := 0.2
	h := newEngineHarness(t, &stubScorer{result: &scorer.Result{SemanticScore: low}})
	ctx := context.Background()

	warmBaseline(h, "/quality", 20, 0.01)

	span := engineSpan("t1", "s1", "/quality", 0.01)
	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{span}))

	emitted, err := h.engine.Evaluate(ctx, span)
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	a := emitted[0]
	assert.Equal(t, models.AlertTypeQualityDrop, a.AlertType)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	require.NotNil(t, a.SemanticScore)
	assert.Equal(t, low, *a.SemanticScore)
	assert.Equal(t, models.ScoringBoth, a.ScoringMethod)

	// The signals also land on the span row.
	stored, err := h.spans.GetTraceSpans(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].SemanticScore)
	assert.Equal(t, low, *stored[0].SemanticScore)
}

func TestEngineMergesCostAndQuality(t *testing.T) {
	h := newEngineHarness(t, &stubScorer{result: &scorer.Result{SemanticScore: 0.1}})
	ctx := context.Background()

	warmBaseline(h, "/merged", 20, 0.01)

	span := engineSpan("t1", "s1", "/merged", 0.10)
	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{span}))

	emitted, err := h.engine.Evaluate(ctx, span)
	require.NoError(t, err)
	require.Len(t, emitted, 1)

	a := emitted[0]
	assert.Equal(t, models.AlertTypeCostAndQuality, a.AlertType)
	assert.Equal(t, models.SeverityHigh, a.Severity)
	assert.NotNil(t, a.SemanticScore)
	assert.Contains(t, a.Reasoning, ";")
}

func TestEngineScorerFailureDegradesToHashOnly(t *testing.T) {
	h := newEngineHarness(t, &stubScorer{err: assert.AnError})
	ctx := context.Background()

	warmBaseline(h, "/degraded", 20, 0.01)

	// The response hash matches the modal one, so hash-only sees nothing
	// wrong and the scorer error must not surface.
	span := engineSpan("t1", "s1", "/degraded", 0.01)
	require.NoError(t, h.spans.UpsertBatch(ctx, []*models.Span{span}))

	emitted, err := h.engine.Evaluate(ctx, span)
	require.NoError(t, err)
	assert.Empty(t, emitted)
}

func TestEngineDedupExpiryFollowsStoredAlert(t *testing.T) {
	client := testdb.NewTestClient(t)
	spans := services.NewSpanService(client.DB())
	alerts := services.NewAlertService(client.DB())
	baselines := services.NewBaselineService(client.DB())
	ctx := context.Background()

	cfg := config.DefaultBaselineConfig()
	cfg.DedupWindow = 300 * time.Millisecond

	warm := func(e *Engine) {
		for i := 0; i < 20; i++ {
			e.Observe(engineSpan("warm", "s", "/window", 0.01))
		}
	}

	first := NewEngine(cfg, baselines, alerts, spans, nil, slog.Default())
	warm(first)

	spike := engineSpan("t1", "s1", "/window", 0.10)
	require.NoError(t, spans.UpsertBatch(ctx, []*models.Span{spike}))
	emitted, err := first.Evaluate(ctx, spike)
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	original := emitted[0].ID

	// Age the row so most of the dedup window is already spent.
	_, err = client.DB().ExecContext(ctx,
		"UPDATE alerts SET created_at = now() - interval '250 milliseconds' WHERE alert_id = $1",
		original)
	require.NoError(t, err)

	// A fresh engine has no cache entry, so the duplicate folds through the
	// store. The cache must pick up the alert's created_at, not the fold
	// time, or the next spike would be suppressed past the window.
	second := NewEngine(cfg, baselines, alerts, spans, nil, slog.Default())
	warm(second)

	dup := engineSpan("t1", "s2", "/window", 0.10)
	require.NoError(t, spans.UpsertBatch(ctx, []*models.Span{dup}))
	folded, err := second.Evaluate(ctx, dup)
	require.NoError(t, err)
	assert.Empty(t, folded)

	time.Sleep(150 * time.Millisecond)

	late := engineSpan("t1", "s3", "/window", 0.10)
	require.NoError(t, spans.UpsertBatch(ctx, []*models.Span{late}))
	emitted, err = second.Evaluate(ctx, late)
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.NotEqual(t, original, emitted[0].ID)
}

func TestEngineFlushPersistsBaselines(t *testing.T) {
	h := newEngineHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		h.engine.Observe(engineSpan("warm", "s", "/flush", 0.01, func(s *models.Span) {
			s.LatencyMS = 100
		}))
	}
	h.engine.FlushAll(ctx)

	for _, w := range models.Windows {
		row, err := h.baselines.Get(ctx, "checkout", "/flush", w)
		require.NoError(t, err)
		assert.InDelta(t, 0.01, row.P95Cost, 1e-9)
		assert.InDelta(t, 100, row.P95LatencyMS, 1e-9)
		assert.Equal(t, 20, row.SampleCount)
	}
}
