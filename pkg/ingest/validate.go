// Package ingest implements the receiver core: per-span validation,
// customer identity injection, rate and quota enforcement, and handoff to
// the batch queue.
package ingest

import (
	"fmt"

	"github.com/spanlight/spanlight/pkg/models"
)

// Rejection codes carried in per-span ingest errors.
const (
	CodeInvalidField  = "INVALID_FIELD"
	CodeOutOfRange    = "OUT_OF_RANGE"
	CodeInvalidEnum   = "INVALID_ENUM"
	CodeQuotaExceeded = "QUOTA_EXCEEDED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeBackpressure  = "BACKPRESSURE"
)

// maxLatencyMS rejects latencies beyond 24 hours as nonsensical.
const maxLatencyMS = 24 * 60 * 60 * 1000

// SpanError reports why one span of a batch was rejected.
type SpanError struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// validateSpan checks one span against the wire contract. It returns the
// rejection code and message, or ok for an acceptable span. Defaults
// (environment) are applied in place.
func validateSpan(span *models.Span) (code, msg string, ok bool) {
	switch {
	case span.TraceID == "":
		return CodeInvalidField, "trace_id is required", false
	case span.SpanID == "":
		return CodeInvalidField, "span_id is required", false
	case span.Timestamp.IsZero():
		return CodeInvalidField, "timestamp is required", false
	case span.ServiceName == "":
		return CodeInvalidField, "service_name is required", false
	case span.Endpoint == "":
		return CodeInvalidField, "endpoint is required", false
	case span.Model == "":
		return CodeInvalidField, "model is required", false
	case span.Status == "":
		return CodeInvalidField, "status is required", false
	}

	if !span.Status.Valid() {
		return CodeInvalidEnum, fmt.Sprintf("status must be 'success' or 'error', got '%s'", span.Status), false
	}
	if span.Environment == "" {
		span.Environment = models.EnvironmentLive
	} else if !span.Environment.Valid() {
		return CodeInvalidEnum, fmt.Sprintf("environment must be 'live' or 'test', got '%s'", span.Environment), false
	}
	if span.Provider != "" && !span.Provider.Valid() {
		return CodeInvalidEnum, fmt.Sprintf("unknown provider '%s'", span.Provider), false
	}

	if span.LatencyMS < 0 || span.LatencyMS > maxLatencyMS {
		return CodeOutOfRange, fmt.Sprintf("latency_ms must be within [0, 24h], got %v", span.LatencyMS), false
	}
	if span.PromptTokens < 0 || span.CompletionTokens < 0 || span.Tokens < 0 {
		return CodeOutOfRange, "token counts must be non-negative", false
	}
	if span.CostUSD < 0 {
		return CodeOutOfRange, "cost_usd must be non-negative", false
	}

	span.Timestamp = span.Timestamp.UTC()
	return "", "", true
}
