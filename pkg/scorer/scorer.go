// Package scorer defines the hook for external semantic quality scoring.
// The core persists scorer results but never computes them itself; when no
// scorer is configured, quality classification degrades to hash-only.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spanlight/spanlight/pkg/models"
)

// Result carries the quality signals an external scorer produced for a span.
type Result struct {
	SemanticScore  float64  `json:"semantic_score"`
	HashSimilarity *float64 `json:"hash_similarity,omitempty"`
}

// Scorer scores a span's response quality. Implementations must be safe for
// concurrent use. A nil result with nil error means the scorer declined to
// score the span.
type Scorer interface {
	Score(ctx context.Context, span *models.Span) (*Result, error)
}

// HTTPScorer calls an external scoring endpoint with a JSON POST. Scoring
// failures are treated as a degraded condition by callers, never as a
// pipeline failure.
type HTTPScorer struct {
	url    string
	client *http.Client
}

// NewHTTPScorer creates a scorer against the given endpoint.
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	ServiceName string `json:"service_name"`
	Endpoint    string `json:"endpoint"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	Response    string `json:"response"`
}

// Score posts the span's prompt/response pair and decodes the scorer's
// verdict.
func (s *HTTPScorer) Score(ctx context.Context, span *models.Span) (*Result, error) {
	body, err := json.Marshal(scoreRequest{
		ServiceName: span.ServiceName,
		Endpoint:    span.Endpoint,
		Model:       span.Model,
		Prompt:      span.Prompt,
		Response:    span.Response,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scorer request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode score response: %w", err)
	}
	return &result, nil
}
