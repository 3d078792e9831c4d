package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spanlight/spanlight/pkg/baseline"
	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/pricing"
	"github.com/spanlight/spanlight/pkg/services"
)

// WorkerPool manages the queue workers draining the span batch queue.
type WorkerPool struct {
	queue    *Queue
	cfg      *config.QueueConfig
	workers  []*Worker
	latency  *storeLatency
	governor *pullGovernor
	started  bool
}

// NewWorkerPool wires the shared pipeline and creates the pool. All workers
// share one processor, one latency window, and one pull governor.
func NewWorkerPool(
	q *Queue,
	cfg *config.QueueConfig,
	table *pricing.Table,
	spans *services.SpanService,
	engine *baseline.Engine,
) *WorkerPool {
	latency := newStoreLatency()
	governor := newPullGovernor(cfg, latency)
	processor := NewSpanProcessor(cfg, table, spans, engine, latency)

	p := &WorkerPool{
		queue:    q,
		cfg:      cfg,
		latency:  latency,
		governor: governor,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		p.workers = append(p.workers,
			NewWorker(fmt.Sprintf("worker-%d", i), q, cfg, processor, governor))
	}
	return p
}

// Start spawns the worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "worker_count", len(p.workers))
	for _, w := range p.workers {
		w.Start(ctx)
	}
	slog.Info("Worker pool started")
}

// Stop signals all workers to stop and waits for them to finish their
// current batches.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully", "queue_depth", p.queue.Depth())
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("Worker pool stopped gracefully")
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		stats := w.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	slow, p99 := p.governor.Active()
	depth := p.queue.Depth()

	return &PoolHealth{
		IsHealthy:       len(p.workers) > 0 && depth < p.cfg.HighWaterMark,
		TotalWorkers:    len(p.workers),
		ActiveWorkers:   activeWorkers,
		QueueDepth:      depth,
		HighWaterMark:   p.cfg.HighWaterMark,
		DeadLetters:     p.queue.DeadLetterCount(),
		SlowdownActive:  slow,
		StoreLatencyP99: p99,
		WorkerStats:     workerStats,
	}
}
