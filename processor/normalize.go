// Package processor turns staged raw batches into the normalized coin table.
package processor

import (
	"time"

	"coinflow/internal/metrics"
	"coinflow/logger"
	"coinflow/models"
)

// NormalizeStats counts what happened to the input entries.
type NormalizeStats struct {
	Input      int
	Dropped    int
	Duplicates int
	Output     int
}

// FilterRecords keeps the entries that are JSON objects with a non-null
// name. Applying it to its own output changes nothing.
func FilterRecords(batch models.RawBatch) models.RawBatch {
	out := make(models.RawBatch, 0, len(batch))
	for _, raw := range batch {
		if isWellFormed(raw) {
			out = append(out, raw)
		}
	}
	return out
}

func isWellFormed(raw models.RawRecord) bool {
	fields, ok := decodeObject(raw)
	if !ok {
		return false
	}
	switch kindOf(fields[models.ColumnName]) {
	case kindMissing, kindNull:
		return false
	}
	return true
}

// Flatten concatenates the batches in order.
func Flatten(batches []models.StagedBatch) models.RawBatch {
	n := 0
	for _, b := range batches {
		n += len(b.Batch)
	}
	out := make(models.RawBatch, 0, n)
	for _, b := range batches {
		out = append(out, b.Batch...)
	}
	return out
}

// Normalize flattens, filters, projects and deduplicates the batches. The
// first record seen for an id wins; records without an id share one key.
// An empty input yields an empty table.
func Normalize(batches []models.StagedBatch) (models.NormalizedTable, NormalizeStats) {
	log := logger.GetLogger()
	entry := log.WithComponent("normalizer").WithFields(logger.Fields{"operation": "Normalize"})
	start := time.Now()

	flat := Flatten(batches)
	stats := NormalizeStats{Input: len(flat)}

	kept := FilterRecords(flat)
	stats.Dropped = len(flat) - len(kept)

	seen := make(map[string]struct{}, len(kept))
	nullSeen := false
	records := make([]models.Record, 0, len(kept))
	for _, raw := range kept {
		rec, ok := Project(raw)
		if !ok {
			stats.Dropped++
			continue
		}
		if rec.ID == nil {
			if nullSeen {
				stats.Duplicates++
				continue
			}
			nullSeen = true
		} else {
			if _, dup := seen[*rec.ID]; dup {
				stats.Duplicates++
				continue
			}
			seen[*rec.ID] = struct{}{}
		}
		records = append(records, rec)
	}
	stats.Output = len(records)

	if stats.Dropped > 0 {
		metrics.EmitDropMetric(log, metrics.DropMetricMalformed, stats.Dropped)
	}
	if stats.Duplicates > 0 {
		metrics.EmitDropMetric(log, metrics.DropMetricDuplicate, stats.Duplicates)
	}

	logger.LogPerformanceEntry(entry, "normalizer", "normalize", time.Since(start), logger.Fields{
		"batches": len(batches),
	})
	entry.WithFields(logger.Fields{
		"input":      stats.Input,
		"dropped":    stats.Dropped,
		"duplicates": stats.Duplicates,
		"output":     stats.Output,
	}).Info("normalized coin records")

	return models.NormalizedTable{Records: records}, stats
}
