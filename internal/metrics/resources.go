package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"calibflow/logger"
)

// StartResourceMetrics emits process resource gauges every `interval` until
// the context is cancelled. When interval <= 0, a one-minute cadence is used.
func StartResourceMetrics(ctx context.Context, interval time.Duration) {
	if !IsFeatureEnabled(FeatureResources) {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "resources"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cpuPct := float64(0)
				if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
					cpuPct = percents[0]
				}
				EmitMetric(log, component, "cpu_percent", cpuPct, "gauge", logger.Fields{"unit": "percent"})

				if memStats, err := mem.VirtualMemory(); err == nil {
					EmitMetric(log, component, "memory_mb", float64(memStats.Used)/1024/1024, "gauge", logger.Fields{"unit": "megabytes"})
				}

				EmitMetric(log, component, "goroutines", runtime.NumGoroutine(), "gauge", logger.Fields{"unit": "count"})
			}
		}
	}()
}
