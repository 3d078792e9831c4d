// Package models contains the domain types shared by the ingest pipeline,
// the baseline engine, and the query layer.
package models

import "time"

// Environment distinguishes live traffic from test traffic.
type Environment string

// Environment values.
const (
	EnvironmentLive Environment = "live"
	EnvironmentTest Environment = "test"
)

// Valid reports whether the environment is a known value.
func (e Environment) Valid() bool {
	return e == EnvironmentLive || e == EnvironmentTest
}

// Provider identifies the LLM provider behind a span.
type Provider string

// Provider values.
const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderCohere    Provider = "cohere"
	ProviderOther     Provider = "other"
)

// Valid reports whether the provider is a known value.
func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderCohere, ProviderOther:
		return true
	}
	return false
}

// SpanStatus is the terminal outcome of an observed operation.
type SpanStatus string

// SpanStatus values.
const (
	SpanStatusSuccess SpanStatus = "success"
	SpanStatusError   SpanStatus = "error"
)

// Valid reports whether the status is a known value.
func (s SpanStatus) Valid() bool {
	return s == SpanStatusSuccess || s == SpanStatusError
}

// Span is one observed operation (an LLM call or a wrapping pipeline step),
// identified by (trace_id, span_id). parent_span_id links spans into a tree.
type Span struct {
	TraceID      string  `json:"trace_id"`
	SpanID       string  `json:"span_id"`
	ParentSpanID *string `json:"parent_span_id,omitempty"`

	CustomerID  string      `json:"customer_id,omitempty"`
	ServiceName string      `json:"service_name"`
	Endpoint    string      `json:"endpoint"`
	Environment Environment `json:"environment,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	LatencyMS float64   `json:"latency_ms"`

	Model            string   `json:"model"`
	Provider         Provider `json:"provider,omitempty"`
	Prompt           string   `json:"prompt,omitempty"`
	Response         string   `json:"response,omitempty"`
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
	Tokens           int      `json:"tokens,omitempty"`

	CostUSD      float64 `json:"cost_usd"`
	ResponseHash string  `json:"response_hash,omitempty"`

	SemanticScore    *float64   `json:"semantic_score,omitempty"`
	HashSimilarity   *float64   `json:"hash_similarity,omitempty"`
	SemanticScoredAt *time.Time `json:"semantic_scored_at,omitempty"`
	SemanticCached   bool       `json:"semantic_cached,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Tags     []string       `json:"tags,omitempty"`

	Status       SpanStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// TreeNode is a span with its children attached, as returned by trace
// reconstruction. Children are ordered by timestamp (span_id breaks ties).
type TreeNode struct {
	Span
	Children []*TreeNode `json:"children,omitempty"`
}

// SpanFilters contains the predicates accepted by span listing.
// Endpoint matches by prefix; the rest match exactly.
type SpanFilters struct {
	ServiceName string
	Endpoint    string
	Model       string
	Status      SpanStatus
	Environment Environment
	StartTime   *time.Time
	EndTime     *time.Time
	Limit       int
	Offset      int
}

// SpanPage is a paginated span listing.
type SpanPage struct {
	Data       []*Span    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination describes the window a listing covers.
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
