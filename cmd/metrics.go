package main

import (
	"context"
	"runtime"
	"time"

	"github.com/okian/assignml/pkg/metrics"
)

const (
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

type statsSource interface {
	GetStats(ctx context.Context) map[string]any
}

// systemMetrics refreshes runtime and queue gauges on a ticker.
type systemMetrics struct {
	stats    statsSource
	interval time.Duration
}

func newSystemMetrics(stats statsSource) *systemMetrics {
	return &systemMetrics{stats: stats, interval: systemMetricsInterval}
}

// Serve implements suture.Service.
func (m *systemMetrics) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			updateSystemMetrics()
			// GetStats refreshes the queue gauges itself.
			_ = m.stats.GetStats(ctx)
		}
	}
}

func (m *systemMetrics) String() string { return "system-metrics" }

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.UpdateSystemMemoryUsage(ms.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if ms.NumGC > 0 {
		avgPauseMs := float64(ms.PauseTotalNs) / float64(ms.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
