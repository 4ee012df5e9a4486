package metrics

import (
	"context"
	"testing"
	"time"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"calibflow/logger"
)

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = 50 * time.Millisecond
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = logger.PublishMetricData })

	metric := Metric{Component: "corpus_writer", Name: "files_written", Timestamp: baseTime, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(25 * time.Millisecond) }
	metric.Timestamp = baseTime.Add(25 * time.Millisecond)
	publishMetricDatum(metric, 2)

	if len(batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(batches))
	}

	if len(batches[0]) != 1 {
		t.Fatalf("expected single metric in publish, got %d", len(batches[0]))
	}

	datum := batches[0][0]
	if datum.MetricName == nil || *datum.MetricName != "files_written" {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 1 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
}

func TestPublishMetricDatumAllowsAfterInterval(t *testing.T) {
	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = 50 * time.Millisecond
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = logger.PublishMetricData })

	metric := Metric{Component: "corpus_writer", Name: "files_written", Timestamp: baseTime, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(75 * time.Millisecond) }
	metric.Timestamp = baseTime.Add(75 * time.Millisecond)
	publishMetricDatum(metric, 2)

	if len(batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(batches))
	}

	second := batches[1]
	if len(second) != 1 {
		t.Fatalf("expected single metric in second publish, got %d", len(second))
	}

	datum := second[0]
	if datum.MetricName == nil || *datum.MetricName != "files_written" {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 2 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
}

func TestPublishMetricDatumUsesDimensionsFromFields(t *testing.T) {
	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	var captured []cwtypes.MetricDatum
	publishMetricsFunc = func(ctx context.Context, data []cwtypes.MetricDatum) {
		captured = append(captured, data...)
	}
	t.Cleanup(func() { publishMetricsFunc = logger.PublishMetricData })

	metric := Metric{
		Component: "pipeline_drops",
		Name:      "record_batches_abandoned",
		Fields:    logger.Fields{"run_id": "run-1", "stage": "send", "capacity": 64, "unit": "count"},
	}
	publishMetricDatum(metric, 1)

	if len(captured) != 1 {
		t.Fatalf("expected 1 datum, got %d", len(captured))
	}

	dims := map[string]string{}
	for _, d := range captured[0].Dimensions {
		dims[*d.Name] = *d.Value
	}
	if dims["component"] != "pipeline_drops" {
		t.Fatalf("missing component dimension: %v", dims)
	}
	if dims["run_id"] != "run-1" || dims["stage"] != "send" {
		t.Fatalf("missing field dimensions: %v", dims)
	}
	if _, ok := dims["capacity"]; ok {
		t.Fatalf("non-string field should not become a dimension: %v", dims)
	}
	if _, ok := dims["unit"]; ok {
		t.Fatalf("unit field should not become a dimension: %v", dims)
	}
}
