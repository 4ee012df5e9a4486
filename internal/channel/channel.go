// Package channel carries surface record batches from the generator to the
// corpus writer.
package channel

import (
	"context"
	"sync"
	"time"

	"calibflow/logger"
	"calibflow/models"
)

// Stats counts batch traffic through the record channel.
type Stats struct {
	Sent      int64
	Dropped   int64
	HighWater int
}

// Channels owns the buffered record stream. Sends block when the buffer is
// full: every grid cell must land in the corpus, so backpressure on the
// generator replaces dropping. Dropped counts batches abandoned because the
// run context ended mid-send.
type Channels struct {
	Records chan models.SurfaceBatch

	stats               Stats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

// NewChannels builds the record channel with the given buffer size.
func NewChannels(bufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Records: make(chan models.SurfaceBatch, bufferSize),
		log:     log,
	}

	log.WithComponent("record_channel").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("record channel initialized")

	return c
}

// StartMetricsReporting logs channel statistics every interval until ctx ends.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	c.metricsReportTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	c.statsMutex.RLock()
	stats := c.stats
	c.statsMutex.RUnlock()

	logger.RecordChannelMessage("records", len(c.Records))

	c.log.WithComponent("record_channel").WithFields(logger.Fields{
		"batches_sent":       stats.Sent,
		"batches_abandoned":  stats.Dropped,
		"record_channel_len": len(c.Records),
		"record_channel_cap": cap(c.Records),
		"high_water":         stats.HighWater,
	}).Info("channel statistics")
}

// Close closes the record stream. Only the generator side calls this, after
// all sends have finished.
func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.Records)
	c.log.WithComponent("record_channel").Info("record channel closed")
}

// SendBatch delivers one batch, blocking while the buffer is full. It returns
// false when ctx ends before the batch is accepted.
func (c *Channels) SendBatch(ctx context.Context, batch models.SurfaceBatch) bool {
	select {
	case c.Records <- batch:
		c.statsMutex.Lock()
		c.stats.Sent++
		if l := len(c.Records); l > c.stats.HighWater {
			c.stats.HighWater = l
		}
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		c.statsMutex.Lock()
		c.stats.Dropped++
		c.statsMutex.Unlock()
		return false
	}
}

// GetStats returns a copy of the traffic counters.
func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// Len reports the number of buffered batches.
func (c *Channels) Len() int {
	return len(c.Records)
}

// Cap reports the buffer capacity.
func (c *Channels) Cap() int {
	return cap(c.Records)
}
