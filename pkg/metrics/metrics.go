// Package metrics registers the Prometheus collectors exposed on the query
// server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestSpans counts per-span ingest outcomes. code is "accepted" or a
	// rejection code such as INVALID_FIELD or QUOTA_EXCEEDED.
	IngestSpans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanlight_ingest_spans_total",
		Help: "Per-span ingest outcomes by code.",
	}, []string{"code"})

	// IngestRequests counts ingest HTTP requests by result.
	IngestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanlight_ingest_requests_total",
		Help: "Ingest requests by result (accepted, partial, backpressure, unauthorized).",
	}, []string{"result"})

	// AlertsCreated counts alerts by type and severity.
	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanlight_alerts_created_total",
		Help: "Alerts created by type and severity.",
	}, []string{"type", "severity"})

	// QueryRequests counts query API requests by route and status class.
	QueryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanlight_query_requests_total",
		Help: "Query API requests by route and status.",
	}, []string{"route", "status"})

	// QueryDuration observes query API handler latency.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spanlight_query_duration_seconds",
		Help:    "Query API handler latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// RegisterQueueDepth exposes the live queue depth and dead-letter count as
// gauges backed by the given readers.
func RegisterQueueDepth(depth, deadLetters func() float64) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "spanlight_queue_depth",
		Help: "Batches waiting in the ingest queue.",
	}, depth)
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "spanlight_queue_dead_letters",
		Help: "Batches parked in the dead-letter sink.",
	}, deadLetters)
}
