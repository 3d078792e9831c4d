// Package logthrottle rate-gates log statements for degraded-path
// conditions, so a sustained condition logs once per interval instead of
// once per span.
package logthrottle

import (
	"sync"
	"time"
)

// Gate allows one event per (condition, interval). Safe for concurrent use.
type Gate struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// New creates a gate with the given interval.
func New(interval time.Duration) *Gate {
	return &Gate{interval: interval, last: make(map[string]time.Time)}
}

// Allow reports whether the condition may log now, and records the attempt
// if so.
func (g *Gate) Allow(condition string) bool {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.last[condition]; ok && now.Sub(t) < g.interval {
		return false
	}
	g.last[condition] = now
	// Opportunistic cleanup keeps the map from growing with dead conditions.
	if len(g.last) > 1024 {
		for k, t := range g.last {
			if now.Sub(t) > g.interval {
				delete(g.last, k)
			}
		}
	}
	return true
}
