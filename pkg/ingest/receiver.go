package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/spanlight/spanlight/pkg/config"
	"github.com/spanlight/spanlight/pkg/models"
	"github.com/spanlight/spanlight/pkg/queue"
)

// ErrBackpressure indicates the queue could not absorb the batch within the
// publish timeout. The accepted spans were NOT enqueued; the client should
// retry the whole batch with backoff.
var ErrBackpressure = errors.New("ingest backpressure")

// Result enumerates the per-span outcomes of one ingest request.
type Result struct {
	Success        bool        `json:"success"`
	TracesReceived int         `json:"traces_received"`
	Errors         []SpanError `json:"errors"`
}

// QuotaCounter is the slice of the quota service the receiver needs.
type QuotaCounter interface {
	Consume(ctx context.Context, customerID string, n int) (int64, error)
}

// Receiver validates incoming span batches and publishes the acceptable
// spans to the queue. It performs no I/O beyond the quota counter and the
// enqueue.
type Receiver struct {
	cfg    *config.ReceiverConfig
	queue  *queue.Queue
	quotas QuotaCounter
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewReceiver creates the receiver core.
func NewReceiver(cfg *config.ReceiverConfig, q *queue.Queue, quotas QuotaCounter, logger *slog.Logger) *Receiver {
	return &Receiver{
		cfg:      cfg,
		queue:    q,
		quotas:   quotas,
		logger:   logger.With("component", "receiver"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Ingest processes one batch for an authenticated customer. Invalid spans
// are rejected individually; the rest are published as a single batch.
// Returns ErrBackpressure when the queue cannot absorb the batch in time.
func (r *Receiver) Ingest(ctx context.Context, customerID string, spans []*models.Span) (*Result, error) {
	result := &Result{Errors: []SpanError{}}
	limiter := r.limiterFor(customerID)

	accepted := make([]*models.Span, 0, len(spans))
	for i, span := range spans {
		if span == nil {
			result.Errors = append(result.Errors, SpanError{
				Index: i, Code: CodeInvalidField, Message: "span must be an object",
			})
			continue
		}
		if code, msg, ok := validateSpan(span); !ok {
			result.Errors = append(result.Errors, SpanError{Index: i, Code: code, Message: msg})
			continue
		}
		if !limiter.Allow() {
			result.Errors = append(result.Errors, SpanError{
				Index: i, Code: CodeRateLimited, Message: "per-customer rate limit exceeded",
			})
			continue
		}
		// The authenticated identity always wins over client-supplied values.
		span.CustomerID = customerID
		accepted = append(accepted, span)
	}

	accepted, result.Errors = r.enforceQuota(ctx, customerID, spans, accepted, result.Errors)

	if len(accepted) > 0 {
		publishCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
		err := r.queue.Publish(publishCtx, customerID, accepted)
		cancel()
		if err != nil {
			r.logger.Warn("Queue rejected batch",
				"customer_id", customerID, "spans", len(accepted), "error", err)
			return nil, ErrBackpressure
		}
	}

	result.TracesReceived = len(accepted)
	result.Success = len(result.Errors) == 0
	return result, nil
}

// enforceQuota charges the daily counter for the accepted spans and rejects
// the tail that lands past the quota. The counter is charged before the cut,
// so it stays a monotonic record of attempts.
func (r *Receiver) enforceQuota(ctx context.Context, customerID string, all, accepted []*models.Span, spanErrors []SpanError) ([]*models.Span, []SpanError) {
	if len(accepted) == 0 {
		return accepted, spanErrors
	}

	used, err := r.quotas.Consume(ctx, customerID, len(accepted))
	if err != nil {
		// Quota bookkeeping must not take ingest down with it.
		r.logger.Error("Quota counter unavailable, admitting batch",
			"customer_id", customerID, "error", err)
		return accepted, spanErrors
	}

	quota := int64(r.cfg.DailyTraceQuota)
	if used <= quota {
		return accepted, spanErrors
	}

	over := used - quota
	if over > int64(len(accepted)) {
		over = int64(len(accepted))
	}
	keep := len(accepted) - int(over)

	for _, span := range accepted[keep:] {
		spanErrors = append(spanErrors, SpanError{
			Index: indexOf(all, span),
			Code:  CodeQuotaExceeded,
			Message: fmt.Sprintf("daily trace quota of %d exhausted until UTC midnight",
				r.cfg.DailyTraceQuota),
		})
	}
	return accepted[:keep], spanErrors
}

func indexOf(all []*models.Span, target *models.Span) int {
	for i, span := range all {
		if span == target {
			return i
		}
	}
	return -1
}

func (r *Receiver) limiterFor(customerID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[customerID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.cfg.RatePerSecond), r.cfg.RateBurst)
		r.limiters[customerID] = l
	}
	return l
}
