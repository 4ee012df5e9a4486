package metrics

import (
	"context"
	"time"

	"calibflow/internal/channel"
	"calibflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the surface record
// channel buffer. Metrics are logged every `interval` until the context is
// cancelled. When interval <= 0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) {
		return
	}
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EmitMetric(log, component, "records_buffer_length", channels.Len(), "gauge", logger.Fields{
					"buffer":   "records",
					"capacity": channels.Cap(),
				})
			}
		}
	}()
}
