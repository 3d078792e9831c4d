package models

import "time"

// Granularity is the bucket width for timeline aggregation.
type Granularity string

// Granularity values.
const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// Valid reports whether the granularity is a known value.
func (g Granularity) Valid() bool {
	switch g {
	case GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// Dimension is the group-by axis for breakdown aggregation.
type Dimension string

// Dimension values.
const (
	DimensionService  Dimension = "service"
	DimensionModel    Dimension = "model"
	DimensionEndpoint Dimension = "endpoint"
	DimensionProvider Dimension = "provider"
)

// Valid reports whether the dimension is a known value.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionService, DimensionModel, DimensionEndpoint, DimensionProvider:
		return true
	}
	return false
}

// TimeRange bounds an analytics query. Zero values mean unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// TimelinePoint is one bucket of the timeline aggregation. Buckets with no
// spans are emitted with zero values.
type TimelinePoint struct {
	Bucket       time.Time `json:"bucket"`
	Count        int       `json:"count"`
	TotalCost    float64   `json:"total_cost"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	TotalTokens  int64     `json:"total_tokens"`
}

// BreakdownRow is one group of the breakdown aggregation, ordered by
// total cost descending.
type BreakdownRow struct {
	Dimension    string  `json:"dimension"`
	Count        int     `json:"count"`
	TotalCost    float64 `json:"total_cost"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	TotalTokens  int64   `json:"total_tokens"`
}

// PercentileSet holds continuous (interpolated) percentiles for one metric.
type PercentileSet struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Percentiles pairs cost and latency percentile sets for a filtered span set.
type Percentiles struct {
	Cost      PercentileSet `json:"cost"`
	LatencyMS PercentileSet `json:"latency_ms"`
}

// Summary is the top-line aggregate for a customer over a range.
type Summary struct {
	TotalRequests  int     `json:"total_requests"`
	TotalCost      float64 `json:"total_cost"`
	AvgCost        float64 `json:"avg_cost"`
	TotalTokens    int64   `json:"total_tokens"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	ErrorRate      float64 `json:"error_rate"`
	UniqueServices int     `json:"unique_services"`
	UniqueModels   int     `json:"unique_models"`
}
