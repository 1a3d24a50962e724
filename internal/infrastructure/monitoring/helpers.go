package monitoring

// Snapshot returns a copy of the current counters for the JSON status API.
// The Prometheus exposition format is served separately via promhttp.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// AvgRequestSeconds returns the mean HTTP request duration observed so far.
func (s MetricsSnapshot) AvgRequestSeconds() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return s.TotalDuration / float64(s.RequestCount)
}
