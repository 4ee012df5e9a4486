package metrics

import "calibflow/logger"

// DropMetric identifies the metric name emitted when pipeline data is lost.
type DropMetric string

const (
	// DropMetricRecordBatch records batches abandoned because the run context
	// ended while a send was in flight.
	DropMetricRecordBatch DropMetric = "record_batches_abandoned"
	// DropMetricUpload records part files whose mirror upload failed. The
	// local copy stays on disk.
	DropMetricUpload DropMetric = "corpus_uploads_failed"
)

// EmitDropMetric logs and emits a metric representing one lost unit of
// pipeline data. The metric value is always incremented by one so callers
// should invoke this helper for each loss. Optional metadata (dataset, run,
// stage) is added to the metric fields when provided which enables downstream
// aggregation per run and pipeline stage.
func EmitDropMetric(log *logger.Log, metric DropMetric, dataset, runID, stage string) {
	fields := logger.Fields{}
	if dataset != "" {
		fields["dataset"] = dataset
	}
	if runID != "" {
		fields["run_id"] = runID
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "pipeline_drops", string(metric), 1, "counter", fields)
}
