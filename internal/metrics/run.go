package metrics

import (
	"time"

	"coinflow/logger"
)

// RunStats summarises one pipeline execution.
type RunStats struct {
	RunID          string
	SkippedFetch   bool
	PagesFetched   int
	RecordsFetched int
	ObjectsLoaded  int
	BytesLoaded    int64
	RecordsInput   int
	RecordsDropped int
	Duplicates     int
	RowsPublished  int
	BytesPublished int64
	Duration       time.Duration
	Failed         bool
}

// ReportRun emits the per-run metrics and one summary line.
func ReportRun(log *logger.Log, stats RunStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	const component = "pipeline"

	dropRate := float64(0)
	if stats.RecordsInput > 0 {
		dropRate = float64(stats.RecordsDropped+stats.Duplicates) / float64(stats.RecordsInput)
	}

	// Metric fields become CloudWatch dimensions, so the run id goes in the
	// summary line only.
	if !stats.SkippedFetch {
		EmitMetric(log, "coingecko_reader", "pages_fetched", stats.PagesFetched, "gauge", nil)
	}
	EmitMetric(log, "table_publisher", "rows_published", stats.RowsPublished, "gauge", nil)
	EmitMetric(log, "table_publisher", "bytes_published", stats.BytesPublished, "gauge", nil)
	EmitMetric(log, component, "drop_rate", dropRate, "gauge", nil)
	EmitMetric(log, component, "run_duration_ms", stats.Duration.Milliseconds(), "gauge", nil)

	failed := 0
	if stats.Failed {
		failed = 1
	}
	EmitMetric(log, component, "run_failed", failed, "gauge", nil)

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"run_id":          stats.RunID,
		"skipped_fetch":   stats.SkippedFetch,
		"pages_fetched":   stats.PagesFetched,
		"records_fetched": stats.RecordsFetched,
		"objects_loaded":  stats.ObjectsLoaded,
		"bytes_loaded":    stats.BytesLoaded,
		"records_input":   stats.RecordsInput,
		"records_dropped": stats.RecordsDropped,
		"duplicates":      stats.Duplicates,
		"rows_published":  stats.RowsPublished,
		"bytes_published": stats.BytesPublished,
		"drop_rate":       dropRate,
		"duration_ms":     stats.Duration.Milliseconds(),
	})

	if stats.Failed {
		entry.Warn("pipeline run metrics")
		return
	}

	entry.Info("pipeline run metrics")
}
