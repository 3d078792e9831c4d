package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// RetentionDays is how many days of spans to keep. Spans older than
	// this are deleted by the retention sweep; dependent alert and replay
	// rows go with them via cascade.
	RetentionDays int `yaml:"retention_days"`

	// AlertExpiry is the age past which non-resolved alerts are auto-expired
	// to resolved.
	AlertExpiry time.Duration `yaml:"alert_expiry"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LoadRetentionConfig reads retention settings from the environment.
func LoadRetentionConfig() (*RetentionConfig, error) {
	days, err := intEnv("RETENTION_DAYS", 7)
	if err != nil {
		return nil, err
	}
	return &RetentionConfig{
		RetentionDays:   days,
		AlertExpiry:     24 * time.Hour,
		CleanupInterval: time.Hour,
	}, nil
}
