// Package baseline maintains rolling cost/latency percentiles per
// (service, endpoint) and classifies incoming spans against them.
package baseline

import (
	"hash/maphash"
	"math"
	"sort"
	"sync"
	"time"
)

// Key identifies one sample buffer.
type Key struct {
	ServiceName string
	Endpoint    string
}

// Sample is one observed (cost, latency) data point.
type Sample struct {
	At        time.Time
	CostUSD   float64
	LatencyMS float64
}

const (
	bufferShards = 16
	// maxDistinctHashes bounds the per-key response hash frequency map.
	maxDistinctHashes = 512
)

// buffer is the per-key sample ring plus response-hash frequencies.
// Guarded by its own mutex so percentile reads on one key never block
// ingest on another.
type buffer struct {
	mu         sync.Mutex
	samples    []Sample // FIFO, bounded at capacity
	capacity   int
	sinceFlush int

	hashCounts map[string]int
	hashTotal  int
}

// Buffers is a sharded collection of per-key sample buffers.
type Buffers struct {
	capacity int
	seed     maphash.Seed
	shards   [bufferShards]struct {
		mu   sync.RWMutex
		keys map[Key]*buffer
	}
}

// NewBuffers creates the sharded buffer map. capacity bounds each key's
// sample ring.
func NewBuffers(capacity int) *Buffers {
	b := &Buffers{capacity: capacity, seed: maphash.MakeSeed()}
	for i := range b.shards {
		b.shards[i].keys = make(map[Key]*buffer)
	}
	return b
}

func (b *Buffers) shardFor(k Key) *struct {
	mu   sync.RWMutex
	keys map[Key]*buffer
} {
	var h maphash.Hash
	h.SetSeed(b.seed)
	_, _ = h.WriteString(k.ServiceName)
	_ = h.WriteByte(0)
	_, _ = h.WriteString(k.Endpoint)
	return &b.shards[h.Sum64()%bufferShards]
}

func (b *Buffers) get(k Key) *buffer {
	shard := b.shardFor(k)
	shard.mu.RLock()
	buf := shard.keys[k]
	shard.mu.RUnlock()
	if buf != nil {
		return buf
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if buf = shard.keys[k]; buf == nil {
		buf = &buffer{capacity: b.capacity, hashCounts: make(map[string]int)}
		shard.keys[k] = buf
	}
	return buf
}

// Add appends a sample and records the response hash. Returns the number of
// samples accumulated since the key's last flush.
func (b *Buffers) Add(k Key, s Sample, responseHash string) int {
	buf := b.get(k)
	buf.mu.Lock()
	defer buf.mu.Unlock()

	if len(buf.samples) >= buf.capacity {
		// Drop the oldest; samples arrive roughly in time order so this
		// approximates a sliding window even before the time filter.
		copy(buf.samples, buf.samples[1:])
		buf.samples = buf.samples[:len(buf.samples)-1]
	}
	buf.samples = append(buf.samples, s)
	buf.sinceFlush++

	if responseHash != "" {
		if len(buf.hashCounts) >= maxDistinctHashes {
			buf.decayHashesLocked()
		}
		buf.hashCounts[responseHash]++
		buf.hashTotal++
	}
	return buf.sinceFlush
}

// decayHashesLocked halves all counts and drops zeros, keeping the frequency
// map bounded while preserving the mode.
func (buf *buffer) decayHashesLocked() {
	total := 0
	for h, c := range buf.hashCounts {
		c /= 2
		if c == 0 {
			delete(buf.hashCounts, h)
			continue
		}
		buf.hashCounts[h] = c
		total += c
	}
	buf.hashTotal = total
}

// ResetFlushCounter clears the per-key new-sample counter after a flush.
func (b *Buffers) ResetFlushCounter(k Key) {
	buf := b.get(k)
	buf.mu.Lock()
	buf.sinceFlush = 0
	buf.mu.Unlock()
}

// Snapshot copies the key's samples newer than cutoff. The copy is taken
// under the buffer mutex; sorting happens on the caller's copy.
func (b *Buffers) Snapshot(k Key, cutoff time.Time) []Sample {
	buf := b.get(k)
	buf.mu.Lock()
	defer buf.mu.Unlock()
	out := make([]Sample, 0, len(buf.samples))
	for _, s := range buf.samples {
		if !s.At.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// HashSimilarity reports how common the given response hash is for the key,
// as its frequency relative to the modal hash. 1.0 means the span's response
// matches the most common response shape; values near 0 mean it diverges
// from everything seen recently. Returns false when too few hashes have been
// observed to judge.
func (b *Buffers) HashSimilarity(k Key, responseHash string) (float64, bool) {
	buf := b.get(k)
	buf.mu.Lock()
	defer buf.mu.Unlock()

	if responseHash == "" || buf.hashTotal < minHashObservations {
		return 0, false
	}
	modal := 0
	for _, c := range buf.hashCounts {
		if c > modal {
			modal = c
		}
	}
	if modal == 0 {
		return 0, false
	}
	return float64(buf.hashCounts[responseHash]) / float64(modal), true
}

// Keys returns every key currently holding samples.
func (b *Buffers) Keys() []Key {
	var keys []Key
	for i := range b.shards {
		b.shards[i].mu.RLock()
		for k := range b.shards[i].keys {
			keys = append(keys, k)
		}
		b.shards[i].mu.RUnlock()
	}
	return keys
}

// minHashObservations is the number of recorded hashes below which
// similarity is not judged.
const minHashObservations = 10

// Percentile computes the nearest-rank percentile (p in (0, 100]) of the
// given values. The slice is sorted in place.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	rank := int(math.Ceil(p / 100 * float64(len(values))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(values) {
		rank = len(values)
	}
	return values[rank-1]
}
