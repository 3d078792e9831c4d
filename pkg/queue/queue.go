package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/models"
)

// Queue is a bounded in-process FIFO of span batches with at-least-once
// delivery. Publishing past the high-water mark fails fast so the receiver
// can surface backpressure; nacked batches are redelivered with exponential
// backoff until MaxAttempts, then parked in the dead-letter sink.
type Queue struct {
	cfg *config.QueueConfig
	ch  chan *Batch

	mu     sync.Mutex
	closed bool

	deadMu sync.Mutex
	dead   []*Batch

	redeliveries sync.WaitGroup
}

// NewQueue creates a queue bounded at the configured high-water mark.
func NewQueue(cfg *config.QueueConfig) *Queue {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	return &Queue{
		cfg: cfg,
		ch:  make(chan *Batch, cfg.HighWaterMark),
	}
}

// Publish enqueues one batch of validated spans. It waits at most until the
// context deadline for capacity, then reports ErrQueueFull.
func (q *Queue) Publish(ctx context.Context, customerID string, spans []*models.Span) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	batch := &Batch{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Spans:      spans,
		Attempts:   0,
		EnqueuedAt: time.Now().UTC(),
	}

	select {
	case q.ch <- batch:
		return nil
	default:
	}
	// Past the high-water mark; wait briefly for workers to catch up.
	select {
	case q.ch <- batch:
		return nil
	case <-ctx.Done():
		return ErrQueueFull
	}
}

// Pull blocks until a batch is available or the context is cancelled. The
// returned batch has its delivery counted.
func (q *Queue) Pull(ctx context.Context) (*Batch, error) {
	select {
	case batch := <-q.ch:
		batch.Attempts++
		return batch, nil
	case <-ctx.Done():
		return nil, ErrNoBatchAvailable
	}
}

// Ack marks a batch processed. Present for contract symmetry with Nack.
func (q *Queue) Ack(*Batch) {}

// Nack schedules a failed batch for redelivery. Batches past MaxAttempts
// move to the dead-letter sink instead.
func (q *Queue) Nack(batch *Batch) {
	if batch.Attempts >= q.cfg.MaxAttempts {
		q.deadLetter(batch)
		return
	}

	delay := q.redeliveryDelay(batch.Attempts)
	slog.Warn("Batch redelivery scheduled",
		"batch_id", batch.ID,
		"attempt", batch.Attempts,
		"max_attempts", q.cfg.MaxAttempts,
		"delay", delay)

	q.redeliveries.Add(1)
	time.AfterFunc(delay, func() {
		defer q.redeliveries.Done()
		select {
		case q.ch <- batch:
		default:
			// No room after the backoff wait; parking beats blocking a
			// timer goroutine behind a stalled store.
			q.deadLetter(batch)
		}
	})
}

// redeliveryDelay computes the backoff before the next delivery of a batch
// that has been attempted n times.
func (q *Queue) redeliveryDelay(n int) time.Duration {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(q.cfg.RetryInitialDelay),
		backoff.WithMaxInterval(q.cfg.RetryMaxDelay),
	)
	d := b.NextBackOff()
	for i := 1; i < n; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop || d > q.cfg.RetryMaxDelay {
		d = q.cfg.RetryMaxDelay
	}
	return d
}

func (q *Queue) deadLetter(batch *Batch) {
	q.deadMu.Lock()
	q.dead = append(q.dead, batch)
	if len(q.dead) > q.cfg.DeadLetterCapacity {
		q.dead = q.dead[len(q.dead)-q.cfg.DeadLetterCapacity:]
	}
	q.deadMu.Unlock()

	slog.Error("Batch moved to dead-letter sink",
		"batch_id", batch.ID,
		"customer_id", batch.CustomerID,
		"spans", len(batch.Spans),
		"attempts", batch.Attempts)
}

// Depth returns the number of batches waiting for delivery.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// DeadLetterCount returns the number of parked batches.
func (q *Queue) DeadLetterCount() int {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	return len(q.dead)
}

// DrainDeadLetters returns and clears the parked batches, oldest first.
func (q *Queue) DrainDeadLetters() []*Batch {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	out := q.dead
	q.dead = nil
	return out
}

// Close stops accepting publishes and waits for pending redelivery timers.
// Batches still in the channel are left for workers to drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.redeliveries.Wait()
}
