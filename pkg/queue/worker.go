package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/spanlight/spanlight/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single pool member that pulls batches and runs them through
// the processor.
type Worker struct {
	id        string
	queue     *Queue
	cfg       *config.QueueConfig
	processor BatchProcessor
	governor  *pullGovernor
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu               sync.RWMutex
	status           WorkerStatus
	currentBatchID   string
	batchesProcessed int
	lastActivity     time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id string, q *Queue, cfg *config.QueueConfig, processor BatchProcessor, governor *pullGovernor) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		cfg:          cfg,
		processor:    processor,
		governor:     governor,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker pull loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// batch. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:               w.id,
		Status:           string(w.status),
		CurrentBatchID:   w.currentBatchID,
		BatchesProcessed: w.batchesProcessed,
		LastActivity:     w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if delay := w.governor.PullDelay(); delay > 0 {
				w.sleep(delay)
			}
			if err := w.pullAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoBatchAvailable) {
					continue
				}
				log.Error("Error processing batch", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pullAndProcess pulls one batch, runs the pipeline, and acks or nacks.
func (w *Worker) pullAndProcess(ctx context.Context) error {
	// Bound the pull wait so a stop signal is noticed promptly.
	pullCtx, cancel := context.WithTimeout(ctx, time.Second)
	batch, err := w.queue.Pull(pullCtx)
	cancel()
	if err != nil {
		return err
	}

	log := slog.With("batch_id", batch.ID, "worker_id", w.id)

	w.setStatus(WorkerStatusWorking, batch.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	if err := w.processor.Process(ctx, batch); err != nil {
		log.Warn("Batch processing failed", "attempt", batch.Attempts, "error", err)
		w.queue.Nack(batch)
		return nil
	}

	w.queue.Ack(batch)

	w.mu.Lock()
	w.batchesProcessed++
	w.mu.Unlock()

	log.Debug("Batch processed", "spans", len(batch.Spans))
	return nil
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, batchID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentBatchID = batchID
	w.lastActivity = time.Now()
}
