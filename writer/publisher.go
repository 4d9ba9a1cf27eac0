package writer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"coinflow/config"
	"coinflow/internal/metadata"
	"coinflow/internal/metrics"
	"coinflow/internal/storage"
	"coinflow/logger"
	"coinflow/models"
	"coinflow/processor"
)

const (
	publishedPrefix = "coin_transformed_"
	runTimeLayout   = "20060102T150405"
	tableName       = "coin_transformed"
)

// PublishResult describes the objects written for one table.
type PublishResult struct {
	Key          string
	Bytes        int64
	Rows         int
	ParquetKey   string
	ParquetBytes int64
	SnapshotID   int64
}

// TablePublisher writes the normalized table to the processed prefix.
type TablePublisher struct {
	store    storage.ObjectStore
	prefix   string
	parquet  config.ParquetConfig
	manifest *metadata.Generator
	log      *logger.Log
}

// NewTablePublisher builds a publisher from cfg. Parquet sidecars and
// manifests are written only when enabled there.
func NewTablePublisher(store storage.ObjectStore, cfg *config.Config) *TablePublisher {
	p := &TablePublisher{
		store:   store,
		prefix:  cfg.Storage.Prefixes.Processed,
		parquet: cfg.Writer.Parquet,
		log:     logger.GetLogger(),
	}
	if cfg.Writer.Manifest.Enabled {
		p.manifest = metadata.NewGenerator(store, cfg.Storage.Prefixes.Manifest, tableName, store.Location()+"/"+p.prefix)
	}
	return p
}

// KeyFor returns the CSV key for a run at runAt.
func (p *TablePublisher) KeyFor(runAt time.Time) string {
	return p.prefix + publishedPrefix + runAt.UTC().Format(runTimeLayout) + ".csv"
}

// Publish encodes table as CSV and writes it under the run's key, replacing
// any object from a run in the same second.
func (p *TablePublisher) Publish(ctx context.Context, table models.NormalizedTable, runAt time.Time) (PublishResult, error) {
	log := p.log.WithComponent("table_publisher").WithFields(logger.Fields{"operation": "Publish"})
	start := time.Now()

	var buf bytes.Buffer
	if err := processor.EncodeCSV(&buf, table); err != nil {
		return PublishResult{}, fmt.Errorf("encode table: %w", err)
	}

	res := PublishResult{
		Key:   p.KeyFor(runAt),
		Bytes: int64(buf.Len()),
		Rows:  table.Len(),
	}
	if err := p.store.Put(ctx, res.Key, buf.Bytes(), "text/csv"); err != nil {
		log.WithError(err).Error("failed to publish table")
		return PublishResult{}, err
	}
	logger.IncrementObjectPublished(res.Bytes)

	files := []metadata.DataFile{p.dataFile(res.Key, "csv", res.Bytes, res.Rows, runAt)}

	if p.parquet.Enabled {
		data, err := encodeParquet(table, p.parquet.Compression)
		if err != nil {
			log.WithError(err).Error("failed to encode parquet sidecar")
			return PublishResult{}, err
		}
		res.ParquetKey = res.Key[:len(res.Key)-len(".csv")] + ".parquet"
		res.ParquetBytes = int64(len(data))
		if err := p.store.Put(ctx, res.ParquetKey, data, "application/vnd.apache.parquet"); err != nil {
			log.WithError(err).Error("failed to publish parquet sidecar")
			return PublishResult{}, err
		}
		logger.IncrementObjectPublished(res.ParquetBytes)
		files = append(files, p.dataFile(res.ParquetKey, "parquet", res.ParquetBytes, res.Rows, runAt))
	}

	if p.manifest != nil {
		snap, err := p.manifest.AddFiles(ctx, runAt, files)
		if err != nil {
			log.WithError(err).Error("failed to record manifest")
			return PublishResult{}, err
		}
		if err := p.manifest.WriteCatalogEntry(ctx); err != nil {
			log.WithError(err).Error("failed to write catalog entry")
			return PublishResult{}, err
		}
		res.SnapshotID = snap.SnapshotID
	}

	logger.LogPerformanceEntry(log, "table_publisher", "publish", time.Since(start), logger.Fields{
		"rows": res.Rows,
	})
	logger.LogDataFlowEntry(log, "normalizer", p.store.Location()+"/"+res.Key, res.Rows, "coin_rows")
	metrics.EmitMetric(p.log, "table_publisher", "bytes_written", res.Bytes+res.ParquetBytes, "counter", nil)
	log.WithFields(logger.Fields{
		"key":         res.Key,
		"rows":        res.Rows,
		"bytes":       res.Bytes,
		"parquet_key": res.ParquetKey,
		"snapshot_id": res.SnapshotID,
	}).Info("published coin table")

	return res, nil
}

func (p *TablePublisher) dataFile(key, format string, size int64, rows int, runAt time.Time) metadata.DataFile {
	return metadata.DataFile{
		Path:        p.store.Location() + "/" + key,
		Format:      format,
		FileSize:    size,
		RecordCount: int64(rows),
		Partition:   map[string]any{"run_date": runAt.UTC().Format("2006-01-02")},
	}
}
