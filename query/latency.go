package query

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// latencyAccuracy is the relative accuracy of the quantile sketches.
const latencyAccuracy = 0.01

// LatencySnapshot holds query latency quantiles in milliseconds.
type LatencySnapshot struct {
	Count int64
	P50   float64
	P90   float64
	P99   float64
	Max   float64
}

// LatencyStats tracks the latency distribution of executed queries.
type LatencyStats struct {
	mu     sync.Mutex
	sketch *ddsketch.DDSketch
	count  int64
	max    float64
}

// NewLatencyStats returns empty stats. The sketch is left out when it cannot
// be built and only the count and maximum are tracked.
func NewLatencyStats() *LatencyStats {
	s := &LatencyStats{}
	if sketch, err := ddsketch.NewDefaultDDSketch(latencyAccuracy); err == nil {
		s.sketch = sketch
	}
	return s
}

// Observe records one execution.
func (s *LatencyStats) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if ms > s.max {
		s.max = ms
	}
	if s.sketch != nil {
		// The sketch rejects negative values only.
		_ = s.sketch.Add(max(ms, 0))
	}
}

// Snapshot returns the current quantiles.
func (s *LatencyStats) Snapshot() LatencySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := LatencySnapshot{Count: s.count, Max: s.max}
	if s.sketch == nil || s.count == 0 {
		return snap
	}
	snap.P50, _ = s.sketch.GetValueAtQuantile(0.50)
	snap.P90, _ = s.sketch.GetValueAtQuantile(0.90)
	snap.P99, _ = s.sketch.GetValueAtQuantile(0.99)
	return snap
}
