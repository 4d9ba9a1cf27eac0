// Package staged reads raw batches back from the staging prefix.
package staged

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"coinflow/config"
	"coinflow/internal/metrics"
	"coinflow/internal/storage"
	"coinflow/logger"
	"coinflow/models"
)

// ParseError reports a staged object whose body is not a JSON array.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse staged object %s: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Loader lists and parses every raw object under a prefix.
type Loader struct {
	store storage.ObjectStore
	order string
	log   *logger.Log
}

// NewLoader returns a loader over store. order is one of the
// config.LoaderOrder* values; anything else behaves as listing order.
func NewLoader(store storage.ObjectStore, order string) *Loader {
	return &Loader{
		store: store,
		order: order,
		log:   logger.GetLogger(),
	}
}

// LoadAll returns one StagedBatch per .json object under prefix. An empty
// prefix yields an empty slice and no error. Any unreadable or unparseable
// object fails the whole load.
func (l *Loader) LoadAll(ctx context.Context, prefix string) ([]models.StagedBatch, error) {
	log := l.log.WithComponent("staged_loader").WithFields(logger.Fields{
		"operation": "LoadAll",
		"prefix":    prefix,
	})
	start := time.Now()

	objects, err := l.store.List(ctx, prefix)
	if err != nil {
		log.WithError(err).Error("failed to list staged objects")
		return nil, err
	}

	batches := make([]models.StagedBatch, 0, len(objects))
	var totalBytes int64
	records := 0
	for _, obj := range objects {
		if !models.IsRawObjectKey(obj.Key) {
			log.WithFields(logger.Fields{"key": obj.Key}).Debug("skipping non-json object")
			continue
		}

		data, err := l.store.Get(ctx, obj.Key)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"key": obj.Key}).Error("failed to read staged object")
			return nil, err
		}

		batch, err := parseBatch(data)
		if err != nil {
			perr := &ParseError{Key: obj.Key, Err: err}
			log.WithError(perr).Error("failed to parse staged object")
			return nil, perr
		}

		size := int64(len(data))
		totalBytes += size
		records += len(batch)
		logger.IncrementObjectLoaded(size)
		batches = append(batches, models.StagedBatch{Key: obj.Key, Size: size, Batch: batch})
	}

	if l.order == config.LoaderOrderTimestamp {
		sortByBatchTime(batches)
	}

	logger.LogPerformanceEntry(log, "staged_loader", "load_all", time.Since(start), logger.Fields{
		"objects": len(batches),
	})
	logger.LogDataFlowEntry(log, "raw_stage", "normalizer", records, "market_records")
	metrics.EmitMetric(l.log, "staged_loader", "objects_loaded", len(batches), "counter", nil)
	metrics.EmitMetric(l.log, "staged_loader", "bytes_loaded", totalBytes, "counter", nil)
	log.WithFields(logger.Fields{
		"objects": len(batches),
		"records": records,
		"bytes":   totalBytes,
		"order":   l.order,
	}).Info("loaded staged batches")

	return batches, nil
}

func parseBatch(data []byte) (models.RawBatch, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("body is not a JSON array")
	}
	var batch models.RawBatch
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// sortByBatchTime orders batches by the fetch time in their keys. Keys
// without a parseable time go last, keeping their listing order.
func sortByBatchTime(batches []models.StagedBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		ti, oki := models.BatchTime(batches[i].Key)
		tj, okj := models.BatchTime(batches[j].Key)
		switch {
		case oki && okj:
			return ti.Before(tj)
		case oki:
			return true
		default:
			return false
		}
	})
}
