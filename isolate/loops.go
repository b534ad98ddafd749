package isolate

import (
	"time"

	"github.com/joeycumines/ioisolate/alert"
)

// cleanupLoop runs every cleanupInterval, disposing expired resource
// handles (spec.md §4.5). It does not touch the resource pool; idle buffers
// are dropped by respool.Pool's own reclaim loop.
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.runCleanup(now)
		}
	}
}

func (m *Manager) runCleanup(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.alerts.Emit(alert.New(alert.BackgroundCleanupFailed, "cleanup pass panicked", map[string]any{"panic": r}))
		}
	}()

	var expired []resourceHandle
	m.resourcesMu.Lock()
	for id, h := range m.resources {
		if !h.expires.IsZero() && now.After(h.expires) {
			expired = append(expired, h)
			delete(m.resources, id)
		}
	}
	m.resourcesMu.Unlock()

	for _, h := range expired {
		if h.dispose != nil {
			h.dispose()
		}
	}
}

// metricsLoop runs at approximately 60Hz, collecting counts and emitting
// alerts on threshold breaches (spec.md §4.5).
func (m *Manager) metricsLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collectMetrics()
		}
	}
}

func (m *Manager) collectMetrics() {
	defer func() {
		if r := recover(); r != nil {
			m.alerts.Emit(alert.New(alert.MetricsCollectionFailed, "metrics collection panicked", map[string]any{"panic": r}))
		}
	}()

	highStats := m.queues[TierHigh].Stats()
	if highStats.Size > highPriorityBacklogAlertThreshold {
		m.alerts.Emit(alert.New(alert.HighPriorityQueueBacklog, "high-priority queue depth exceeds threshold", map[string]any{"size": highStats.Size}).
			WithThreshold(float64(highStats.Size), highPriorityBacklogAlertThreshold))
	}

	m.workersMu.RLock()
	var totalLatency time.Duration
	var processed uint64
	for _, w := range m.workers {
		s := w.Stats()
		processed += s.Processed
		totalLatency += s.AvgProcessTime
	}
	workerCount := len(m.workers)
	m.workersMu.RUnlock()

	var avg time.Duration
	if workerCount > 0 {
		avg = totalLatency / time.Duration(workerCount)
	}
	if avg > avgWorkerLatencyAlertThreshold {
		m.alerts.Emit(alert.New(alert.ProcessingDelay, "average worker latency exceeds threshold", map[string]any{"avg_ms": avg.Milliseconds()}).
			WithThreshold(float64(avg.Milliseconds()), float64(avgWorkerLatencyAlertThreshold.Milliseconds())))
	}

	m.metricsMu.Lock()
	m.metrics.TotalProcessed = processed
	m.metrics.AvgWorkerLatency = avg
	m.metricsMu.Unlock()
}
