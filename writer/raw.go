// Package writer persists raw batches and the published coin table.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coinflow/internal/storage"
	"coinflow/logger"
	"coinflow/models"
)

// RawWriter stages fetched batches as single JSON objects.
type RawWriter struct {
	store  storage.ObjectStore
	prefix string
	log    *logger.Log
}

func NewRawWriter(store storage.ObjectStore, prefix string) *RawWriter {
	return &RawWriter{
		store:  store,
		prefix: prefix,
		log:    logger.GetLogger(),
	}
}

// Key returns the object key a batch with id is staged under.
func (w *RawWriter) Key(id string) string {
	return w.prefix + id
}

// Stage writes batch as one JSON array at Key(id). Staging the same id
// again replaces the object.
func (w *RawWriter) Stage(ctx context.Context, id string, batch models.RawBatch) error {
	log := w.log.WithComponent("raw_writer").WithFields(logger.Fields{
		"operation": "Stage",
		"batch_id":  id,
	})
	if id == "" {
		return fmt.Errorf("batch id is required")
	}
	if batch == nil {
		batch = models.RawBatch{}
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode raw batch %s: %w", id, err)
	}

	key := w.Key(id)
	start := time.Now()
	if err := w.store.Put(ctx, key, data, "application/json"); err != nil {
		log.WithError(err).Error("failed to stage raw batch")
		return err
	}

	logger.IncrementObjectStaged(int64(len(data)))
	logger.LogPerformanceEntry(log, "raw_writer", "stage", time.Since(start), logger.Fields{
		"data_size": len(data),
	})
	logger.LogDataFlowEntry(log, "raw_batch", w.store.Location()+"/"+key, len(batch), "market_records")
	log.WithFields(logger.Fields{
		"key":     key,
		"records": len(batch),
		"bytes":   len(data),
	}).Info("staged raw batch")
	return nil
}
