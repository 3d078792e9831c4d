package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how span batches are buffered, claimed, and retried.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines consuming batches.
	WorkerCount int `yaml:"worker_count"`

	// HighWaterMark is the queue depth (in batches) past which publishes
	// fail fast with a backpressure signal.
	HighWaterMark int `yaml:"high_water_mark"`

	// MaxAttempts is the number of deliveries a batch gets before it is
	// moved to the dead-letter sink. Includes the first delivery.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryInitialDelay and RetryMaxDelay bound the exponential backoff
	// applied between redeliveries of a nacked batch.
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`

	// DeadLetterCapacity bounds the in-memory dead-letter sink. Oldest
	// entries are evicted past the cap.
	DeadLetterCapacity int `yaml:"dead_letter_capacity"`

	// StoreTimeout bounds each persistence round-trip inside the worker
	// pipeline.
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// SlowdownLatencyP99 is the store write P99 past which workers start
	// AIMD pull slowdown; SlowdownWindow is how long the condition must
	// hold before the first backoff step.
	SlowdownLatencyP99 time.Duration `yaml:"slowdown_latency_p99"`
	SlowdownWindow     time.Duration `yaml:"slowdown_window"`

	// GracefulShutdownTimeout is the max time to wait for in-flight batches
	// to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             4,
		HighWaterMark:           1024,
		MaxAttempts:             3,
		RetryInitialDelay:       200 * time.Millisecond,
		RetryMaxDelay:           10 * time.Second,
		DeadLetterCapacity:      256,
		StoreTimeout:            30 * time.Second,
		SlowdownLatencyP99:      500 * time.Millisecond,
		SlowdownWindow:          30 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
