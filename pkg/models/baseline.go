package models

import "time"

// WindowSize is a rolling baseline window.
type WindowSize string

// WindowSize values.
const (
	Window1h  WindowSize = "1h"
	Window24h WindowSize = "24h"
	Window7d  WindowSize = "7d"
)

// Windows lists every active baseline window, narrowest first.
var Windows = []WindowSize{Window1h, Window24h, Window7d}

// Duration returns the wall-clock span the window covers.
func (w WindowSize) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// CostBaseline is a rolling cost percentile row for one
// (service, endpoint, window) key.
type CostBaseline struct {
	ServiceName string     `json:"service_name"`
	Endpoint    string     `json:"endpoint"`
	WindowSize  WindowSize `json:"window_size"`

	P50Cost float64 `json:"p50_cost"`
	P95Cost float64 `json:"p95_cost"`
	P99Cost float64 `json:"p99_cost"`

	P50LatencyMS float64 `json:"p50_latency_ms"`
	P95LatencyMS float64 `json:"p95_latency_ms"`
	P99LatencyMS float64 `json:"p99_latency_ms"`

	SampleCount int       `json:"sample_count"`
	LastUpdated time.Time `json:"last_updated"`
}
