// Package coingecko reads the paginated /coins/markets feed.
package coingecko

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"coinflow/config"
	"coinflow/internal/metrics"
	"coinflow/logger"
	"coinflow/models"
)

const marketsPath = "/coins/markets"

// MarketsReader walks the markets feed page by page until the upstream
// returns an empty page.
type MarketsReader struct {
	cfg     config.CoinGeckoConfig
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	log     *logger.Log
}

// Option customises a MarketsReader.
type Option func(*MarketsReader)

// WithHTTPClient replaces the HTTP client. Configured headers are still added.
func WithHTTPClient(c *http.Client) Option {
	return func(r *MarketsReader) {
		r.client = c
	}
}

// WithClock sets the clock used to stamp the batch identifier.
func WithClock(now func() time.Time) Option {
	return func(r *MarketsReader) {
		r.now = now
	}
}

// NewMarketsReader builds a reader for cfg. A RequestsPerMinute of zero
// disables page pacing.
func NewMarketsReader(cfg config.CoinGeckoConfig, userAgent string, opts ...Option) *MarketsReader {
	r := &MarketsReader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		log:    logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if userAgent != "" {
		headers.Set("User-Agent", userAgent)
	}
	if cfg.APIKey != "" && cfg.APIKeyHeader != "" {
		headers.Set(cfg.APIKeyHeader, cfg.APIKey)
	}
	base := r.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client := *r.client
	client.Transport = headerTransport{headers: headers, base: base}
	r.client = &client

	if cfg.RequestsPerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	r.log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"base_url":            cfg.BaseURL,
		"per_page":            cfg.PerPage,
		"requests_per_minute": cfg.RequestsPerMinute,
		"timeout":             cfg.Timeout,
		"api_key":             cfg.APIKey != "",
	}).Info("coingecko reader initialized")

	return r
}

// FetchAll requests pages 1, 2, ... and concatenates their entries in
// arrival order. The first empty page ends the run. Any failed page aborts
// the whole run with a *TransportError; nothing is returned for the pages
// already read.
func (r *MarketsReader) FetchAll(ctx context.Context) (models.FetchResult, error) {
	log := r.log.WithComponent("coingecko_reader").WithFields(logger.Fields{"operation": "FetchAll"})
	start := time.Now()

	var batch models.RawBatch
	pages := 0
	for page := 1; ; page++ {
		records, err := r.FetchPage(ctx, page)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"page": page}).Error("fetch aborted")
			return models.FetchResult{}, err
		}
		if len(records) == 0 {
			break
		}
		pages++
		batch = append(batch, records...)
	}

	fetchedAt := r.now().UTC()
	result := models.FetchResult{
		BatchID:   models.BatchIDFor(fetchedAt),
		Batch:     batch,
		Pages:     pages,
		FetchedAt: fetchedAt,
	}

	logger.LogPerformanceEntry(log, "coingecko_reader", "fetch_all", time.Since(start), logger.Fields{
		"pages": pages,
	})
	logger.LogDataFlowEntry(log, "coingecko_api", "raw_batch", len(batch), "market_records")
	metrics.EmitMetric(r.log, "coingecko_reader", "records_fetched", len(batch), "counter", nil)
	log.WithFields(logger.Fields{
		"records":  len(batch),
		"pages":    pages,
		"batch_id": result.BatchID,
	}).Info("fetched coin market data")

	return result, nil
}

// FetchPage requests a single page. A body that is not a JSON array is an
// error, an empty array is not.
func (r *MarketsReader) FetchPage(ctx context.Context, page int) (models.RawPage, error) {
	log := r.log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"operation": "fetch_page",
		"page":      page,
	})

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Page: page, Err: err}
		}
	}

	reqURL, err := r.pageURL(page)
	if err != nil {
		return nil, &TransportError{Page: page, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &TransportError{Page: page, Err: err}
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &TransportError{Page: page, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Page: page, StatusCode: resp.StatusCode, Err: err}
	}
	logger.LogPerformanceEntry(log, "coingecko_reader", "api_request", time.Since(start), logger.Fields{
		"status":    resp.StatusCode,
		"data_size": len(body),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Page:       page,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", snippet(body)),
		}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &TransportError{
			Page:       page,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response is not a JSON array: %s", snippet(body)),
		}
	}

	var records models.RawPage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, &TransportError{Page: page, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode page: %w", err)}
	}

	logger.IncrementPageFetched(len(body))
	log.WithFields(logger.Fields{"records": len(records)}).Debug("page fetched")
	return records, nil
}

func (r *MarketsReader) pageURL(page int) (string, error) {
	u, err := url.Parse(strings.TrimRight(r.cfg.BaseURL, "/") + marketsPath)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("vs_currency", r.cfg.VsCurrency)
	q.Set("order", r.cfg.Order)
	q.Set("per_page", strconv.Itoa(r.cfg.PerPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("sparkline", strconv.FormatBool(r.cfg.Sparkline))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func snippet(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
