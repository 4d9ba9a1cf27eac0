package metrics

import "coinflow/logger"

// DropMetric identifies the metric name emitted when records are discarded
// during normalization.
type DropMetric string

const (
	// DropMetricMalformed counts entries that are not objects with a name.
	DropMetricMalformed DropMetric = "records_dropped"
	// DropMetricDuplicate counts records discarded by the keep-first dedup.
	DropMetricDuplicate DropMetric = "duplicates_dropped"
)

// EmitDropMetric emits count discarded records under metric. Drops are data
// quality signals, not errors.
func EmitDropMetric(log *logger.Log, metric DropMetric, count int) {
	EmitMetric(log, "normalizer", string(metric), count, "counter", nil)
}
