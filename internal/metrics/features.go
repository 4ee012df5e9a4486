package metrics

import (
	"strings"
	"sync"

	"calibflow/config"
)

// Feature identifies an optional metrics collector that can be switched off
// in configuration.
type Feature string

const (
	// FeatureResources controls the periodic process resource gauges.
	FeatureResources Feature = "resources"
	// FeatureChannelSize controls the channel buffer occupancy gauges.
	FeatureChannelSize Feature = "channel_size"
)

var (
	featuresMu sync.RWMutex
	features   = map[Feature]bool{
		FeatureResources:   true,
		FeatureChannelSize: true,
	}
)

// Configure applies the metrics feature switches from configuration.
func Configure(cfg config.MetricsConfig) {
	featuresMu.Lock()
	features[FeatureResources] = cfg.Resources
	features[FeatureChannelSize] = cfg.ChannelSize
	featuresMu.Unlock()
}

// IsFeatureEnabled reports whether the given metrics feature is switched on.
// Unknown features are treated as enabled.
func IsFeatureEnabled(feature Feature) bool {
	featuresMu.RLock()
	defer featuresMu.RUnlock()

	enabled, ok := features[feature]
	if !ok {
		return true
	}
	return enabled
}

// featureForMetric maps a metric name to the feature switch gating it. Metric
// names without a mapping are always emitted.
func featureForMetric(name string) (Feature, bool) {
	switch {
	case strings.HasSuffix(name, "_buffer_length"):
		return FeatureChannelSize, true
	case name == "cpu_percent" || name == "memory_mb" || name == "goroutines":
		return FeatureResources, true
	}
	return "", false
}
