package config

import "time"

// BaselineConfig controls the rolling percentile engine.
type BaselineConfig struct {
	// BufferSize bounds the per-(service, endpoint, window) sample ring.
	BufferSize int `yaml:"buffer_size"`

	// UpdatePeriod is the periodic percentile recompute/flush interval.
	UpdatePeriod time.Duration `yaml:"update_period"`

	// UpdateDelta triggers an early recompute once a key accumulates this
	// many new samples since its last flush.
	UpdateDelta int `yaml:"update_delta"`

	// DedupWindow is how long an alert suppresses duplicates for the same
	// (customer, service, endpoint, type) scope.
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// DefaultBaselineConfig returns the built-in baseline defaults.
func DefaultBaselineConfig() *BaselineConfig {
	return &BaselineConfig{
		BufferSize:   10000,
		UpdatePeriod: 60 * time.Second,
		UpdateDelta:  100,
		DedupWindow:  time.Minute,
	}
}
