package monitoring

import "time"

// Snapshot returns a copy of the current counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Uptime returns the time since the collector was created
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// AverageLatency returns the mean HTTP request duration
func (s MetricsSnapshot) AverageLatency() time.Duration {
	if s.RequestCount == 0 {
		return 0
	}
	return time.Duration(s.TotalDuration / float64(s.RequestCount) * float64(time.Second))
}

// ErrorRate returns the share of HTTP requests answered with 4xx or 5xx
func (s MetricsSnapshot) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalRequests)
}
