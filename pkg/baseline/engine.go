package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/logthrottle"
	"github.com/spanlight/spanlight/pkg/metrics"
	"github.com/spanlight/spanlight/pkg/models"
	"github.com/spanlight/spanlight/pkg/scorer"
	"github.com/spanlight/spanlight/pkg/services"
)

// minBaselineSamples is the in-memory sample count below which the engine
// falls back to the persisted baseline row.
const minBaselineSamples = 10

// Thresholds for anomaly classification. Cost and latency trip at 2x the
// rolling P95; quality trips on a low semantic score or a response hash far
// from the modal response.
const (
	spikeMultiplier    = 2.0
	lowSemanticScore   = 0.5
	lowHashSimilarity  = 0.3
	highHashSimilarity = 0.8
)

// Engine maintains rolling percentile baselines and classifies spans against
// them. One Engine is shared by all workers.
type Engine struct {
	cfg       *config.BaselineConfig
	buffers   *Buffers
	baselines *services.BaselineService
	alerts    *services.AlertService
	spans     *services.SpanService
	scorer    scorer.Scorer // nil means quality runs hash-only
	logger    *slog.Logger
	gate      *logthrottle.Gate

	// dedup is the fast path in front of the store's dedup check: a hit
	// bumps the existing alert's occurrence counter without opening a
	// transaction.
	dedupMu sync.Mutex
	dedup   map[dedupKey]dedupEntry

	flushCh chan Key
	cancel  context.CancelFunc
	done    chan struct{}
}

type dedupKey struct {
	customerID  string
	serviceName string
	endpoint    string
	alertType   models.AlertType
}

type dedupEntry struct {
	alertID string
	at      time.Time
}

// NewEngine creates the baseline engine. scorer may be nil.
func NewEngine(
	cfg *config.BaselineConfig,
	baselines *services.BaselineService,
	alerts *services.AlertService,
	spans *services.SpanService,
	sc scorer.Scorer,
	logger *slog.Logger,
) *Engine {
	if cfg == nil {
		cfg = config.DefaultBaselineConfig()
	}
	return &Engine{
		cfg:       cfg,
		buffers:   NewBuffers(cfg.BufferSize),
		baselines: baselines,
		alerts:    alerts,
		spans:     spans,
		scorer:    sc,
		logger:    logger.With("component", "baseline_engine"),
		gate:      logthrottle.New(time.Minute),
		dedup:     make(map[dedupKey]dedupEntry),
		flushCh:   make(chan Key, 256),
		done:      make(chan struct{}),
	}
}

// Start launches the periodic flush loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.run(ctx)
	e.logger.Info("Baseline engine started",
		"update_period", e.cfg.UpdatePeriod,
		"update_delta", e.cfg.UpdateDelta,
		"buffer_size", e.cfg.BufferSize)
}

// Stop halts the flush loop after a final flush of all keys.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.logger.Info("Baseline engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.UpdatePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush so samples observed since the last tick reach
			// the store before shutdown.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			e.FlushAll(flushCtx)
			cancel()
			return
		case <-ticker.C:
			e.FlushAll(ctx)
		case k := <-e.flushCh:
			if err := e.flushKey(ctx, k, time.Now().UTC()); err != nil && e.gate.Allow("flush_key") {
				e.logger.Error("Failed to flush baseline key",
					"service", k.ServiceName, "endpoint", k.Endpoint, "error", err)
			}
		}
	}
}

// Observe records a persisted span's cost/latency sample and response hash.
// Crossing the update delta schedules an early flush for the key.
func (e *Engine) Observe(span *models.Span) {
	k := Key{ServiceName: span.ServiceName, Endpoint: span.Endpoint}
	n := e.buffers.Add(k, Sample{
		At:        span.Timestamp.UTC(),
		CostUSD:   span.CostUSD,
		LatencyMS: span.LatencyMS,
	}, span.ResponseHash)

	if n >= e.cfg.UpdateDelta {
		select {
		case e.flushCh <- k:
			e.buffers.ResetFlushCounter(k)
		default:
			// Flush queue full; the periodic tick will pick the key up.
		}
	}
}

// FlushAll recomputes and persists percentiles for every key with samples.
func (e *Engine) FlushAll(ctx context.Context) {
	now := time.Now().UTC()
	for _, k := range e.buffers.Keys() {
		if ctx.Err() != nil {
			return
		}
		if err := e.flushKey(ctx, k, now); err != nil && e.gate.Allow("flush_all") {
			e.logger.Error("Failed to flush baseline key",
				"service", k.ServiceName, "endpoint", k.Endpoint, "error", err)
		}
	}
}

// flushKey upserts one baseline row per window. Empty windows are skipped,
// never zeroed.
func (e *Engine) flushKey(ctx context.Context, k Key, now time.Time) error {
	for _, w := range models.Windows {
		samples := e.buffers.Snapshot(k, now.Add(-w.Duration()))
		if len(samples) == 0 {
			continue
		}
		costs := make([]float64, len(samples))
		latencies := make([]float64, len(samples))
		for i, s := range samples {
			costs[i] = s.CostUSD
			latencies[i] = s.LatencyMS
		}
		row := &models.CostBaseline{
			ServiceName:  k.ServiceName,
			Endpoint:     k.Endpoint,
			WindowSize:   w,
			P50Cost:      Percentile(costs, 50),
			P95Cost:      Percentile(costs, 95),
			P99Cost:      Percentile(costs, 99),
			P50LatencyMS: Percentile(latencies, 50),
			P95LatencyMS: Percentile(latencies, 95),
			P99LatencyMS: Percentile(latencies, 99),
			SampleCount:  len(samples),
			LastUpdated:  now,
		}
		if err := e.baselines.Upsert(ctx, row); err != nil {
			return err
		}
	}
	e.buffers.ResetFlushCounter(k)
	return nil
}

// Evaluate classifies one persisted span and records any resulting alerts.
// Classification errors are returned for logging but a scorer failure only
// degrades quality detection to hash-only.
func (e *Engine) Evaluate(ctx context.Context, span *models.Span) ([]*models.Alert, error) {
	k := Key{ServiceName: span.ServiceName, Endpoint: span.Endpoint}

	base, ok, err := e.currentBaseline(ctx, k)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Alert

	if ok {
		if a := e.checkCost(span, base); a != nil {
			candidates = append(candidates, a)
		}
		if a := e.checkLatency(span, base); a != nil {
			candidates = append(candidates, a)
		}
	}

	quality := e.checkQuality(ctx, span, k)
	if quality != nil {
		candidates = mergeCostAndQuality(candidates, quality)
	}

	var emitted []*models.Alert
	for _, a := range candidates {
		stored, err := e.emit(ctx, a)
		if err != nil {
			return emitted, err
		}
		if stored != nil {
			emitted = append(emitted, stored)
		}
	}
	return emitted, nil
}

// currentBaseline returns the 24h percentile view for the key: the in-memory
// buffer when it holds enough samples, the persisted row otherwise. ok is
// false when no baseline exists yet, which skips cost and latency rules.
func (e *Engine) currentBaseline(ctx context.Context, k Key) (*models.CostBaseline, bool, error) {
	now := time.Now().UTC()
	samples := e.buffers.Snapshot(k, now.Add(-models.Window24h.Duration()))
	if len(samples) >= minBaselineSamples {
		costs := make([]float64, len(samples))
		latencies := make([]float64, len(samples))
		for i, s := range samples {
			costs[i] = s.CostUSD
			latencies[i] = s.LatencyMS
		}
		return &models.CostBaseline{
			ServiceName:  k.ServiceName,
			Endpoint:     k.Endpoint,
			WindowSize:   models.Window24h,
			P95Cost:      Percentile(costs, 95),
			P95LatencyMS: Percentile(latencies, 95),
			SampleCount:  len(samples),
		}, true, nil
	}

	row, err := e.baselines.Get(ctx, k.ServiceName, k.Endpoint, models.Window24h)
	if errors.Is(err, services.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load baseline: %w", err)
	}
	return row, true, nil
}

func (e *Engine) checkCost(span *models.Span, base *models.CostBaseline) *models.Alert {
	b := base.P95Cost
	if b <= 0 || span.CostUSD <= spikeMultiplier*b {
		return nil
	}
	return &models.Alert{
		CustomerID:          span.CustomerID,
		TraceID:             span.TraceID,
		SpanID:              span.SpanID,
		ServiceName:         span.ServiceName,
		Endpoint:            span.Endpoint,
		AlertType:           models.AlertTypeCostSpike,
		Severity:            costSeverity(span.CostUSD, b),
		CurrentCost:         span.CostUSD,
		BaselineCost:        b,
		CostIncreasePercent: (span.CostUSD - b) / b * 100,
		Reasoning: fmt.Sprintf("cost $%.6f exceeds %.0fx the 24h P95 of $%.6f",
			span.CostUSD, spikeMultiplier, b),
	}
}

func (e *Engine) checkLatency(span *models.Span, base *models.CostBaseline) *models.Alert {
	b := base.P95LatencyMS
	if b <= 0 || span.LatencyMS <= spikeMultiplier*b {
		return nil
	}
	return &models.Alert{
		CustomerID:          span.CustomerID,
		TraceID:             span.TraceID,
		SpanID:              span.SpanID,
		ServiceName:         span.ServiceName,
		Endpoint:            span.Endpoint,
		AlertType:           models.AlertTypeLatencySpike,
		Severity:            costSeverity(span.LatencyMS, b),
		CurrentCost:         span.CostUSD,
		BaselineCost:        base.P95Cost,
		CostIncreasePercent: 0,
		Reasoning: fmt.Sprintf("latency %.0fms exceeds %.0fx the 24h P95 of %.0fms",
			span.LatencyMS, spikeMultiplier, b),
	}
}

// checkQuality runs the external scorer when configured and compares the
// span's response hash against the modal response for the key. Scorer
// failures log once per minute and fall back to hash-only.
func (e *Engine) checkQuality(ctx context.Context, span *models.Span, k Key) *models.Alert {
	var (
		semScore *float64
		method   = models.ScoringHashOnly
	)
	if e.scorer != nil && span.Response != "" {
		res, err := e.scorer.Score(ctx, span)
		switch {
		case err != nil:
			if e.gate.Allow("scorer") {
				e.logger.Warn("Scorer unavailable, quality checks degraded to hash-only", "error", err)
			}
		case res != nil:
			semScore = &res.SemanticScore
			method = models.ScoringSemantic
		}
	}

	var hashSim *float64
	if sim, ok := e.buffers.HashSimilarity(k, span.ResponseHash); ok {
		hashSim = &sim
		if method == models.ScoringSemantic {
			method = models.ScoringBoth
		}
	}

	if semScore != nil || hashSim != nil {
		if err := e.spans.UpdateQualitySignals(ctx, span.TraceID, span.SpanID, semScore, hashSim); err != nil && e.gate.Allow("quality_persist") {
			e.logger.Error("Failed to persist quality signals", "trace_id", span.TraceID, "error", err)
		}
	}

	semLow := semScore != nil && *semScore < lowSemanticScore
	hashLow := hashSim != nil && *hashSim < lowHashSimilarity
	if !semLow && !hashLow {
		return nil
	}

	reason := "response diverges from the modal response for this endpoint"
	if semLow {
		reason = fmt.Sprintf("semantic score %.2f below %.2f", *semScore, lowSemanticScore)
	}
	return &models.Alert{
		CustomerID:     span.CustomerID,
		TraceID:        span.TraceID,
		SpanID:         span.SpanID,
		ServiceName:    span.ServiceName,
		Endpoint:       span.Endpoint,
		AlertType:      models.AlertTypeQualityDrop,
		Severity:       qualitySeverity(semScore, hashSim),
		CurrentCost:    span.CostUSD,
		SemanticScore:  semScore,
		HashSimilarity: hashSim,
		ScoringMethod:  method,
		Reasoning:      reason,
	}
}

// mergeCostAndQuality folds a simultaneous cost spike and quality drop into a
// single cost_and_quality alert carrying both signal sets.
func mergeCostAndQuality(candidates []*models.Alert, quality *models.Alert) []*models.Alert {
	for i, a := range candidates {
		if a.AlertType != models.AlertTypeCostSpike {
			continue
		}
		merged := *a
		merged.AlertType = models.AlertTypeCostAndQuality
		merged.SemanticScore = quality.SemanticScore
		merged.HashSimilarity = quality.HashSimilarity
		merged.ScoringMethod = quality.ScoringMethod
		merged.Reasoning = a.Reasoning + "; " + quality.Reasoning
		if severityRank(quality.Severity) > severityRank(merged.Severity) {
			merged.Severity = quality.Severity
		}
		candidates[i] = &merged
		return candidates
	}
	return append(candidates, quality)
}

// emit records the alert through the dedup fast path and the store. Returns
// nil when the alert was folded into an existing one.
func (e *Engine) emit(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	if a.ScoringMethod == "" {
		a.ScoringMethod = models.ScoringHashOnly
	}

	dk := dedupKey{
		customerID:  a.CustomerID,
		serviceName: a.ServiceName,
		endpoint:    a.Endpoint,
		alertType:   a.AlertType,
	}
	now := time.Now().UTC()

	e.dedupMu.Lock()
	entry, hit := e.dedup[dk]
	if hit && now.Sub(entry.at) < e.cfg.DedupWindow {
		e.dedupMu.Unlock()
		if err := e.alerts.BumpOccurrence(ctx, entry.alertID); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				// Alert was cleaned up underneath the cache; drop the entry
				// and take the slow path.
				e.dedupMu.Lock()
				delete(e.dedup, dk)
				e.dedupMu.Unlock()
				return e.emitSlow(ctx, a, dk, now)
			}
			return nil, err
		}
		return nil, nil
	}
	e.dedupMu.Unlock()

	return e.emitSlow(ctx, a, dk, now)
}

func (e *Engine) emitSlow(ctx context.Context, a *models.Alert, dk dedupKey, now time.Time) (*models.Alert, error) {
	stored, created, err := e.alerts.Create(ctx, a, e.cfg.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to record alert: %w", err)
	}

	// Stamp with the stored alert's creation time, not the emit time: when
	// the store folded the alert into an existing row, the dedup window
	// keeps running from that row's created_at.
	e.dedupMu.Lock()
	e.dedup[dk] = dedupEntry{alertID: stored.ID, at: stored.CreatedAt}
	if len(e.dedup) > 4096 {
		for k, v := range e.dedup {
			if now.Sub(v.at) >= e.cfg.DedupWindow {
				delete(e.dedup, k)
			}
		}
	}
	e.dedupMu.Unlock()

	if !created {
		return nil, nil
	}
	metrics.AlertsCreated.WithLabelValues(string(stored.AlertType), string(stored.Severity)).Inc()
	e.logger.Info("Alert created",
		"alert_id", stored.ID,
		"type", stored.AlertType,
		"severity", stored.Severity,
		"service", stored.ServiceName,
		"endpoint", stored.Endpoint)
	return stored, nil
}

// costSeverity grades a value against its baseline: LOW up to 3x, MEDIUM up
// to 5x, HIGH beyond.
func costSeverity(current, baseline float64) models.AlertSeverity {
	switch {
	case current > 5*baseline:
		return models.SeverityHigh
	case current > 3*baseline:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// qualitySeverity grades a quality-only alert from the score magnitude.
func qualitySeverity(semScore, hashSim *float64) models.AlertSeverity {
	score := 0.0
	switch {
	case semScore != nil:
		score = *semScore
	case hashSim != nil:
		score = *hashSim
	}
	switch {
	case score >= highHashSimilarity:
		return models.SeverityLow
	case score < lowSemanticScore:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

func severityRank(s models.AlertSeverity) int {
	switch s {
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	default:
		return 1
	}
}
