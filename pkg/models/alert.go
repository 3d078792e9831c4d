package models

import "time"

// AlertType classifies what tripped the anomaly engine.
type AlertType string

// AlertType values.
const (
	AlertTypeCostSpike      AlertType = "cost_spike"
	AlertTypeLatencySpike   AlertType = "latency_spike"
	AlertTypeQualityDrop    AlertType = "quality_drop"
	AlertTypeCostAndQuality AlertType = "cost_and_quality"
)

// Valid reports whether the alert type is a known value.
func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeCostSpike, AlertTypeLatencySpike, AlertTypeQualityDrop, AlertTypeCostAndQuality:
		return true
	}
	return false
}

// AlertSeverity grades how far past the baseline a span landed.
type AlertSeverity string

// AlertSeverity values.
const (
	SeverityLow    AlertSeverity = "LOW"
	SeverityMedium AlertSeverity = "MEDIUM"
	SeverityHigh   AlertSeverity = "HIGH"
)

// Valid reports whether the severity is a known value.
func (s AlertSeverity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// AlertStatus is the operator-facing lifecycle state of an alert.
//
//	pending -> sent -> acknowledged -> resolved
//
// resolved is terminal; non-terminal alerts older than 24h are auto-expired
// to resolved by the cleanup sweep.
type AlertStatus string

// AlertStatus values.
const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusSent         AlertStatus = "sent"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Valid reports whether the status is a known value.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusPending, AlertStatusSent, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Only forward transitions are allowed and resolved is terminal.
// Acknowledgement requires a prior dispatch to sent; resolved is reachable
// from every non-terminal state so the auto-expire sweep can close alerts.
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertStatusPending:
		return next == AlertStatusSent || next == AlertStatusResolved
	case AlertStatusSent:
		return next == AlertStatusAcknowledged || next == AlertStatusResolved
	case AlertStatusAcknowledged:
		return next == AlertStatusResolved
	default:
		return false
	}
}

// ScoringMethod records which quality signals contributed to an alert.
type ScoringMethod string

// ScoringMethod values.
const (
	ScoringHashOnly ScoringMethod = "hash_only"
	ScoringSemantic ScoringMethod = "semantic"
	ScoringBoth     ScoringMethod = "both"
)

// Alert is a persisted anomaly classification linked to its triggering span.
type Alert struct {
	ID         string `json:"alert_id"`
	CustomerID string `json:"customer_id"`
	TraceID    string `json:"trace_id"`
	SpanID     string `json:"span_id"`

	ServiceName string `json:"service_name"`
	Endpoint    string `json:"endpoint"`

	AlertType AlertType     `json:"alert_type"`
	Severity  AlertSeverity `json:"severity"`

	CurrentCost         float64       `json:"current_cost"`
	BaselineCost        float64       `json:"baseline_cost"`
	CostIncreasePercent float64       `json:"cost_increase_percent"`
	HashSimilarity      *float64      `json:"hash_similarity,omitempty"`
	SemanticScore       *float64      `json:"semantic_score,omitempty"`
	ScoringMethod       ScoringMethod `json:"scoring_method"`
	Reasoning           string        `json:"reasoning"`

	Status AlertStatus `json:"status"`
	// Occurrences counts suppressed duplicates folded into this alert.
	Occurrences int `json:"occurrences"`

	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// AlertFilters contains the predicates accepted by alert listing.
type AlertFilters struct {
	CustomerID string
	Status     AlertStatus
	Severity   AlertSeverity
	AlertType  AlertType
	Limit      int
	Offset     int
}
