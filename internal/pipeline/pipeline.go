// Package pipeline runs one fetch, stage, load, normalize and publish pass.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"coinflow/config"
	"coinflow/internal/metrics"
	"coinflow/internal/storage"
	"coinflow/logger"
	"coinflow/models"
	"coinflow/processor"
	"coinflow/reader/coingecko"
	"coinflow/reader/staged"
	"coinflow/writer"
)

// Stage names used in StageError.
const (
	StageFetch     = "fetch"
	StageStage     = "stage"
	StageLoad      = "load"
	StageNormalize = "normalize"
	StagePublish   = "publish"
)

// StageError wraps the error that aborted a run with the stage it came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RunResult describes a run. On failure it holds whatever the completed
// stages produced.
type RunResult struct {
	RunID     string
	RunAt     time.Time
	Fetch     models.FetchResult
	Objects   int
	Bytes     int64
	Normalize processor.NormalizeStats
	Publish   writer.PublishResult
	Duration  time.Duration
}

// Pipeline wires the stages together. Each Run is strictly sequential.
type Pipeline struct {
	fetcher   *coingecko.MarketsReader
	stager    *writer.RawWriter
	loader    *staged.Loader
	publisher *writer.TablePublisher
	rawPrefix string
	skipFetch bool
	now       func() time.Time
	log       *logger.Log
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for the batch id and the run time.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithSkipFetch makes Run reprocess what is already staged.
func WithSkipFetch(skip bool) Option {
	return func(p *Pipeline) {
		p.skipFetch = skip
	}
}

// New builds a pipeline over store from cfg.
func New(cfg *config.Config, store storage.ObjectStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		rawPrefix: cfg.Storage.Prefixes.Raw,
		now:       time.Now,
		log:       logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	userAgent := cfg.Coinflow.Name
	if userAgent != "" && cfg.Coinflow.Version != "" {
		userAgent += "/" + cfg.Coinflow.Version
	}
	p.fetcher = coingecko.NewMarketsReader(cfg.Source.CoinGecko, userAgent, coingecko.WithClock(p.now))
	p.stager = writer.NewRawWriter(store, cfg.Storage.Prefixes.Raw)
	p.loader = staged.NewLoader(store, cfg.Loader.Order)
	p.publisher = writer.NewTablePublisher(store, cfg)
	return p
}

// Run executes one pass. The first failing stage aborts the run; objects
// already written stay in place.
func (p *Pipeline) Run(ctx context.Context) (res RunResult, err error) {
	res.RunID = uuid.NewString()
	res.RunAt = p.now().UTC()
	start := time.Now()

	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{"run_id": res.RunID})
	log.WithFields(logger.Fields{
		"run_at":     res.RunAt,
		"skip_fetch": p.skipFetch,
	}).Info("pipeline run started")

	defer func() {
		res.Duration = time.Since(start)
		metrics.ReportRun(p.log, metrics.RunStats{
			RunID:          res.RunID,
			SkippedFetch:   p.skipFetch,
			PagesFetched:   res.Fetch.Pages,
			RecordsFetched: len(res.Fetch.Batch),
			ObjectsLoaded:  res.Objects,
			BytesLoaded:    res.Bytes,
			RecordsInput:   res.Normalize.Input,
			RecordsDropped: res.Normalize.Dropped,
			Duplicates:     res.Normalize.Duplicates,
			RowsPublished:  res.Publish.Rows,
			BytesPublished: res.Publish.Bytes + res.Publish.ParquetBytes,
			Duration:       res.Duration,
			Failed:         err != nil,
		})
		if err != nil {
			log.WithError(err).Error("pipeline run failed")
		}
	}()

	if !p.skipFetch {
		res.Fetch, err = p.fetcher.FetchAll(ctx)
		if err != nil {
			return res, &StageError{Stage: StageFetch, Err: err}
		}
		if err = p.stager.Stage(ctx, res.Fetch.BatchID, res.Fetch.Batch); err != nil {
			return res, &StageError{Stage: StageStage, Err: err}
		}
	}

	batches, err := p.loader.LoadAll(ctx, p.rawPrefix)
	if err != nil {
		return res, &StageError{Stage: StageLoad, Err: err}
	}
	res.Objects = len(batches)
	for _, b := range batches {
		res.Bytes += b.Size
	}

	if err = ctx.Err(); err != nil {
		return res, &StageError{Stage: StageNormalize, Err: err}
	}
	table, stats := processor.Normalize(batches)
	res.Normalize = stats

	res.Publish, err = p.publisher.Publish(ctx, table, res.RunAt)
	if err != nil {
		return res, &StageError{Stage: StagePublish, Err: err}
	}

	log.WithFields(logger.Fields{
		"batch_id": res.Fetch.BatchID,
		"objects":  res.Objects,
		"rows":     res.Publish.Rows,
		"key":      res.Publish.Key,
	}).Info("pipeline run completed")
	return res, nil
}
