// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/models"
	"github.com/spanlight/spanlight/pkg/services"
)

// Service periodically enforces retention policies:
//   - Deletes spans past the retention window (alerts and replay rows
//     cascade with them)
//   - Auto-expires non-terminal alerts older than the alert expiry
//   - Garbage-collects stale baseline rows and spent quota counters
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config    *config.RetentionConfig
	spans     *services.SpanService
	alerts    *services.AlertService
	baselines *services.BaselineService
	quotas    *services.QuotaService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	spans *services.SpanService,
	alerts *services.AlertService,
	baselines *services.BaselineService,
	quotas *services.QuotaService,
) *Service {
	return &Service{
		config:    cfg,
		spans:     spans,
		alerts:    alerts,
		baselines: baselines,
		quotas:    quotas,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"retention_days", s.config.RetentionDays,
		"alert_expiry", s.config.AlertExpiry,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteExpiredSpans(ctx)
	s.expireStaleAlerts(ctx)
	s.deleteStaleBaselines(ctx)
	s.deleteSpentQuotas(ctx)
}

func (s *Service) deleteExpiredSpans(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.RetentionDays)
	count, err := s.spans.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: span deletion failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired spans", "count", count, "cutoff", cutoff)
	}
}

func (s *Service) expireStaleAlerts(ctx context.Context) {
	count, err := s.alerts.ExpireStale(ctx, s.config.AlertExpiry)
	if err != nil {
		slog.Error("Retention: alert expiry failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: auto-resolved stale alerts", "count", count)
	}
}

func (s *Service) deleteStaleBaselines(ctx context.Context) {
	// A baseline untouched for longer than the widest window has no live
	// samples behind it.
	maxAge := models.Window7d.Duration()
	count, err := s.baselines.DeleteStale(ctx, maxAge)
	if err != nil {
		slog.Error("Retention: baseline cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted stale baselines", "count", count)
	}
}

func (s *Service) deleteSpentQuotas(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.RetentionDays)
	count, err := s.quotas.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: quota cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted spent quota counters", "count", count)
	}
}
