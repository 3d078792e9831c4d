// Package config holds the service configuration, loaded from the
// environment with built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Receiver  *ReceiverConfig
	Query     *QueryConfig
	Queue     *QueueConfig
	Baseline  *BaselineConfig
	Retention *RetentionConfig
	Scorer    *ScorerConfig

	// PricingPath optionally points at a JSON pricing override file.
	PricingPath string
}

// Load builds the full configuration from environment variables,
// falling back to defaults for anything unset.
func Load() (*Config, error) {
	receiver, err := LoadReceiverConfig()
	if err != nil {
		return nil, err
	}
	retention, err := LoadRetentionConfig()
	if err != nil {
		return nil, err
	}
	return &Config{
		Receiver:    receiver,
		Query:       LoadQueryConfig(),
		Queue:       DefaultQueueConfig(),
		Baseline:    DefaultBaselineConfig(),
		Retention:   retention,
		Scorer:      LoadScorerConfig(),
		PricingPath: os.Getenv("PRICING_PATH"),
	}, nil
}

// ReceiverConfig controls the ingest listener and per-customer limits.
type ReceiverConfig struct {
	// Port the ingest HTTP server listens on.
	Port string

	// DailyTraceQuota is the maximum spans a customer may ingest per UTC day.
	DailyTraceQuota int

	// RatePerSecond and RateBurst shape the per-customer token bucket applied
	// before the daily quota check.
	RatePerSecond float64
	RateBurst     int

	// PublishTimeout bounds how long ingest may wait on a full queue before
	// returning BACKPRESSURE.
	PublishTimeout time.Duration
}

// LoadReceiverConfig reads receiver settings from the environment.
func LoadReceiverConfig() (*ReceiverConfig, error) {
	quota, err := intEnv("DAILY_TRACE_QUOTA", 50000)
	if err != nil {
		return nil, err
	}
	return &ReceiverConfig{
		Port:            getEnvOrDefault("RECEIVER_PORT", "4318"),
		DailyTraceQuota: quota,
		RatePerSecond:   200,
		RateBurst:       2000,
		PublishTimeout:  2 * time.Second,
	}, nil
}

// QueryConfig controls the query/ops listener.
type QueryConfig struct {
	// Port the query HTTP server listens on.
	Port string

	// MaxPageSize caps the limit parameter on listings.
	MaxPageSize int

	// RequestTimeout bounds each store round-trip made on behalf of a query.
	RequestTimeout time.Duration
}

// LoadQueryConfig reads query settings from the environment.
func LoadQueryConfig() *QueryConfig {
	return &QueryConfig{
		Port:           getEnvOrDefault("QUERY_PORT", "8080"),
		MaxPageSize:    1000,
		RequestTimeout: 30 * time.Second,
	}
}

// ScorerConfig points at the optional external semantic scorer.
type ScorerConfig struct {
	// URL of the scorer endpoint; empty disables semantic scoring and
	// quality classification degrades to hash-only.
	URL string

	// Timeout bounds each scorer call.
	Timeout time.Duration
}

// LoadScorerConfig reads scorer settings from the environment.
func LoadScorerConfig() *ScorerConfig {
	return &ScorerConfig{
		URL:     os.Getenv("SCORER_URL"),
		Timeout: 30 * time.Second,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
