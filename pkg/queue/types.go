// Package queue provides the bounded span-batch queue and the worker pool
// that drains it.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/spanlight/spanlight/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueFull indicates the queue is past its high-water mark; the
	// caller should surface backpressure to the client.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueClosed indicates the queue no longer accepts publishes.
	ErrQueueClosed = errors.New("queue closed")

	// ErrNoBatchAvailable indicates the pull returned with no work.
	ErrNoBatchAvailable = errors.New("no batch available")
)

// Batch is one published unit of work: the spans of a single ingest request
// that passed validation, plus delivery bookkeeping.
type Batch struct {
	ID         string
	CustomerID string
	Spans      []*models.Span

	// Attempts counts deliveries, including the first.
	Attempts   int
	EnqueuedAt time.Time
}

// BatchProcessor runs the per-span pipeline for one batch.
//
// The processor owns the entire span lifecycle: normalization, cost
// computation, response fingerprinting, persistence, baseline accumulation,
// and anomaly evaluation. The worker only handles delivery: pulling,
// acking/nacking, and pull-rate slowdown.
type BatchProcessor interface {
	Process(ctx context.Context, batch *Batch) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy       bool           `json:"is_healthy"`
	TotalWorkers    int            `json:"total_workers"`
	ActiveWorkers   int            `json:"active_workers"`
	QueueDepth      int            `json:"queue_depth"`
	HighWaterMark   int            `json:"high_water_mark"`
	DeadLetters     int            `json:"dead_letters"`
	SlowdownActive  bool           `json:"slowdown_active"`
	StoreLatencyP99 float64        `json:"store_latency_p99_ms"`
	WorkerStats     []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"` // "idle" or "working"
	CurrentBatchID   string    `json:"current_batch_id,omitempty"`
	BatchesProcessed int       `json:"batches_processed"`
	LastActivity     time.Time `json:"last_activity"`
}
