package metrics

import (
	"sync"
	"time"
)

// DispatchStats counts dispatch outcomes and records cycle latency.
// Outcome names are free-form so the core domain does not depend on this package.
type DispatchStats struct {
	mu       sync.Mutex
	outcomes map[string]int64
	errors   int64
	latency  *LatencyTracker
}

// NewDispatchStats creates an empty stats collector.
func NewDispatchStats() *DispatchStats {
	return &DispatchStats{
		outcomes: make(map[string]int64),
		latency:  NewLatencyTracker(1000),
	}
}

// Observe records one finished dispatch cycle.
func (s *DispatchStats) Observe(outcome string, d time.Duration, err error) {
	s.mu.Lock()
	if outcome != "" {
		s.outcomes[outcome]++
	}
	if err != nil {
		s.errors++
	}
	s.mu.Unlock()

	s.latency.Record(d)
}

// Count returns the number of cycles that ended with outcome.
func (s *DispatchStats) Count(outcome string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[outcome]
}

// Snapshot returns a JSON-friendly view of the collected stats.
func (s *DispatchStats) Snapshot() map[string]any {
	s.mu.Lock()
	outcomes := make(map[string]int64, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	errors := s.errors
	s.mu.Unlock()

	return map[string]any{
		"outcomes": outcomes,
		"errors":   errors,
		"latency":  s.latency.Stats().ToMap(),
	}
}
