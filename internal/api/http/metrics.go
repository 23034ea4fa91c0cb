package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// MetricsSnapshot is the JSON view of the service's counters
type MetricsSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Terminals TerminalCounts `json:"terminals"`
	Runtime   RuntimeStats   `json:"runtime"`
	Summary   MetricsSummary `json:"summary"`
}

// TerminalCounts counts stacks and terminals
type TerminalCounts struct {
	Stacks  int `json:"stacks"`
	Total   int `json:"total"`
	Running int `json:"running"`
}

// RuntimeStats describes the Go runtime
type RuntimeStats struct {
	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heap_bytes"`
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	TotalRequests     int64   `json:"total_requests"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
	ErrorRate         float64 `json:"error_rate"`
	ActiveConnections int     `json:"active_connections"`
	FailedSaves       int64   `json:"failed_saves"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// MetricsJSON returns the counters the UI's status bar shows
func (h *Handlers) MetricsJSON(c *gin.Context) {
	summaries := h.orch.Summaries()
	counts := TerminalCounts{Stacks: len(summaries), Running: runningTerminals(summaries)}
	for _, s := range summaries {
		counts.Total += len(s.Terminals)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, MetricsSnapshot{
		Timestamp: time.Now(),
		Terminals: counts,
		Runtime:   RuntimeStats{Goroutines: runtime.NumGoroutine(), HeapBytes: mem.HeapAlloc},
		Summary:   h.summary(),
	})
}

func (h *Handlers) summary() MetricsSummary {
	if h.metrics == nil {
		return MetricsSummary{UptimeSeconds: time.Since(h.started).Seconds()}
	}

	snapshot := h.metrics.Snapshot()
	return MetricsSummary{
		TotalRequests:     snapshot.TotalRequests,
		AverageLatencyMs:  float64(snapshot.AverageLatency()) / float64(time.Millisecond),
		ErrorRate:         snapshot.ErrorRate(),
		ActiveConnections: int(snapshot.ActiveConnections),
		FailedSaves:       snapshot.FailedSaves,
		UptimeSeconds:     h.metrics.Uptime().Seconds(),
	}
}
