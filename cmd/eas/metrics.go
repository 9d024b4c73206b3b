package main

import (
	"context"
	"runtime"
	"time"

	service "github.com/lowmax205/eas/internal/app"
	"github.com/lowmax205/eas/pkg/metrics"
)

// startSystemMetricsUpdater samples runtime metrics every interval until ctx ends.
func startSystemMetricsUpdater(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes queue and worker gauges from the
// service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()
	if capacity, ok := stats["queueCapacity"].(int); ok && capacity > 0 {
		metrics.UpdateQueueCapacity(capacity)
		if queueLen, ok := stats["queueLength"].(int); ok {
			metrics.UpdateQueueUtilization(float64(queueLen) / float64(capacity))
		}
	}
	if busy, ok := stats["busyWorkers"].(int); ok {
		metrics.UpdateWorkerActiveCount(busy)
	}
}
