package metrics

import (
	"time"

	"calibflow/logger"
)

// GeneratorStats holds metrics for the grid sweep generator.
type GeneratorStats struct {
	CellsSimulated   int64
	CellsTotal       int
	BatchesSent      int64
	ErrorsCount      int64
	PendingRecords   int
	Elapsed          time.Duration
	RecordChannelLen int
	RecordChannelCap int
}

// ReportGenerator emits metrics for the generator component.
func ReportGenerator(log *logger.Log, runID string, stats GeneratorStats) {
	l := log.WithComponent("generator")

	errorRate := float64(0)
	if stats.CellsSimulated+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.CellsSimulated+stats.ErrorsCount)
	}

	cellsPerSecond := float64(0)
	if stats.Elapsed > 0 {
		cellsPerSecond = float64(stats.CellsSimulated) / stats.Elapsed.Seconds()
	}

	l.LogMetric("generator", "cells_simulated", stats.CellsSimulated, "counter", logger.Fields{})
	l.LogMetric("generator", "batches_sent", stats.BatchesSent, "counter", logger.Fields{})
	l.LogMetric("generator", "errors_count", stats.ErrorsCount, "counter", logger.Fields{})
	l.LogMetric("generator", "error_rate", errorRate, "gauge", logger.Fields{})
	l.LogMetric("generator", "cells_per_second", cellsPerSecond, "gauge", logger.Fields{})
	l.LogMetric("generator", "pending_records", stats.PendingRecords, "gauge", logger.Fields{})

	l.WithFields(logger.Fields{
		"run_id":             runID,
		"cells_simulated":    stats.CellsSimulated,
		"cells_total":        stats.CellsTotal,
		"batches_sent":       stats.BatchesSent,
		"errors_count":       stats.ErrorsCount,
		"error_rate":         errorRate,
		"cells_per_second":   cellsPerSecond,
		"pending_records":    stats.PendingRecords,
		"record_channel_len": stats.RecordChannelLen,
		"record_channel_cap": stats.RecordChannelCap,
	}).Info("generator metrics")
}
