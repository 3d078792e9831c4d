// Package pricing maps (provider, model) pairs to per-million-token rates and
// computes span costs from token counts.
package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spanlight/spanlight/pkg/models"
)

// Rates holds USD per one million tokens.
type Rates struct {
	InputPerM  float64 `json:"input_per_m"`
	OutputPerM float64 `json:"output_per_m"`
}

// FallbackRates is used when a model has no pricing entry. Costs computed from
// it are flagged uncertain.
var FallbackRates = Rates{InputPerM: 1, OutputPerM: 2}

// Table resolves models to rates. It is immutable after Load and safe for
// concurrent use.
type Table struct {
	mu    sync.RWMutex
	rates map[string]Rates // key: provider/model
}

// builtin is the shipped pricing table. Rates drift; override with a pricing
// file when they do.
var builtin = map[string]Rates{
	"openai/gpt-4":              {InputPerM: 30, OutputPerM: 60},
	"openai/gpt-4-turbo":        {InputPerM: 10, OutputPerM: 30},
	"openai/gpt-4o":             {InputPerM: 2.5, OutputPerM: 10},
	"openai/gpt-4o-mini":        {InputPerM: 0.15, OutputPerM: 0.6},
	"openai/gpt-3.5-turbo":      {InputPerM: 0.5, OutputPerM: 1.5},
	"anthropic/claude-3-opus":   {InputPerM: 15, OutputPerM: 75},
	"anthropic/claude-3-sonnet": {InputPerM: 3, OutputPerM: 15},
	"anthropic/claude-3-haiku":  {InputPerM: 0.25, OutputPerM: 1.25},
	"cohere/command-r":          {InputPerM: 0.5, OutputPerM: 1.5},
	"cohere/command-r-plus":     {InputPerM: 3, OutputPerM: 15},
}

// NewTable returns a table seeded with the builtin rates.
func NewTable() *Table {
	rates := make(map[string]Rates, len(builtin))
	for k, v := range builtin {
		rates[k] = v
	}
	return &Table{rates: rates}
}

// LoadFile merges rates from a JSON file of the shape
// {"provider/model": {"input_per_m": x, "output_per_m": y}} over the builtin
// table. Called once at startup when PRICING_PATH is set.
func (t *Table) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pricing file: %w", err)
	}
	var overrides map[string]Rates
	if err := json.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse pricing file: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range overrides {
		t.rates[strings.ToLower(k)] = v
	}
	return nil
}

// Lookup returns the rates for (provider, model) and whether an exact entry
// exists. When it does not, FallbackRates are returned.
func (t *Table) Lookup(provider models.Provider, model string) (Rates, bool) {
	key := strings.ToLower(string(provider) + "/" + model)
	t.mu.RLock()
	r, ok := t.rates[key]
	t.mu.RUnlock()
	if !ok {
		return FallbackRates, false
	}
	return r, true
}

// Cost computes the USD cost for the given token counts at the given rates.
func (r Rates) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1e6*r.InputPerM + float64(completionTokens)/1e6*r.OutputPerM
}

// InferProvider guesses the provider from a model name. Unknown models map to
// ProviderOther.
func InferProvider(model string) models.Provider {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"),
		strings.HasPrefix(m, "text-davinci"), strings.HasPrefix(m, "text-embedding"):
		return models.ProviderOpenAI
	case strings.HasPrefix(m, "claude"):
		return models.ProviderAnthropic
	case strings.HasPrefix(m, "command"), strings.HasPrefix(m, "embed-"):
		return models.ProviderCohere
	default:
		return models.ProviderOther
	}
}
