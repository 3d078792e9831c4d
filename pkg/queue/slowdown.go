package queue

import (
	"sync"
	"time"

	"github.com/spanlight/spanlight/pkg/baseline"
	"github.com/spanlight/spanlight/pkg/config"
)

// maxStoreLatencySamples bounds the rolling store-latency window.
const maxStoreLatencySamples = 512

// maxPullDelay caps how far the AIMD controller slows a worker's pull loop.
const maxPullDelay = 5 * time.Second

// pullDelayStep is the additive recovery step once the store is healthy
// again, and the initial delay on the first backoff.
const pullDelayStep = 50 * time.Millisecond

type latencySample struct {
	at time.Time
	ms float64
}

// storeLatency is a rolling window of store write durations shared by all
// workers' processors.
type storeLatency struct {
	mu      sync.Mutex
	samples []latencySample
}

func newStoreLatency() *storeLatency {
	return &storeLatency{}
}

// Record adds one store round-trip duration.
func (l *storeLatency) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, latencySample{
		at: time.Now(),
		ms: float64(d) / float64(time.Millisecond),
	})
	if len(l.samples) > maxStoreLatencySamples {
		l.samples = l.samples[len(l.samples)-maxStoreLatencySamples:]
	}
}

// P99 returns the 99th percentile write latency in milliseconds over the
// given lookback, and false when no samples fall inside it.
func (l *storeLatency) P99(lookback time.Duration) (float64, bool) {
	cutoff := time.Now().Add(-lookback)
	l.mu.Lock()
	values := make([]float64, 0, len(l.samples))
	for _, s := range l.samples {
		if s.at.After(cutoff) {
			values = append(values, s.ms)
		}
	}
	l.mu.Unlock()
	if len(values) == 0 {
		return 0, false
	}
	return baseline.Percentile(values, 99), true
}

// pullGovernor slows worker pulls AIMD-style when the store's write P99
// stays over the configured threshold for the configured window:
// multiplicative backoff while breached, additive recovery once healthy.
type pullGovernor struct {
	cfg     *config.QueueConfig
	latency *storeLatency

	mu          sync.Mutex
	delay       time.Duration
	breachSince time.Time
}

func newPullGovernor(cfg *config.QueueConfig, latency *storeLatency) *pullGovernor {
	return &pullGovernor{cfg: cfg, latency: latency}
}

// PullDelay returns how long the calling worker should wait before its next
// pull, advancing the controller state.
func (g *pullGovernor) PullDelay() time.Duration {
	p99, ok := g.latency.P99(g.cfg.SlowdownWindow)
	threshold := float64(g.cfg.SlowdownLatencyP99) / float64(time.Millisecond)
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if !ok || p99 <= threshold {
		g.breachSince = time.Time{}
		if g.delay > pullDelayStep {
			g.delay -= pullDelayStep
		} else {
			g.delay = 0
		}
		return g.delay
	}

	if g.breachSince.IsZero() {
		g.breachSince = now
	}
	if now.Sub(g.breachSince) >= g.cfg.SlowdownWindow {
		if g.delay == 0 {
			g.delay = pullDelayStep
		} else if g.delay < maxPullDelay {
			g.delay *= 2
			if g.delay > maxPullDelay {
				g.delay = maxPullDelay
			}
		}
	}
	return g.delay
}

// Active reports whether a slowdown is currently applied, with the P99 that
// drove it.
func (g *pullGovernor) Active() (bool, float64) {
	p99, _ := g.latency.P99(g.cfg.SlowdownWindow)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delay > 0, p99
}
