package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"coinflow/config"
)

func testConfig(baseURL string) config.CoinGeckoConfig {
	cfg := config.Default().Source.CoinGecko
	cfg.BaseURL = baseURL
	cfg.Timeout = 5 * time.Second
	cfg.RequestsPerMinute = 0
	return cfg
}

// pagedServer serves pages[i] for page=i+1 and an empty array afterwards.
func pagedServer(t *testing.T, pages [][]string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			http.Error(w, "bad page", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if page > len(pages) {
			fmt.Fprint(w, "[]")
			return
		}
		fmt.Fprint(w, "[")
		for i, rec := range pages[page-1] {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprint(w, rec)
		}
		fmt.Fprint(w, "]")
	}))
}

func TestFetchAllConcatenatesPages(t *testing.T) {
	var calls int32
	pages := [][]string{
		{`{"id":"bitcoin","name":"Bitcoin"}`, `{"id":"ethereum","name":"Ethereum"}`},
		{`{"id":"tether","name":"Tether"}`},
		{`{"id":"solana","name":"Solana"}`},
	}
	srv := pagedServer(t, pages, &calls)
	defer srv.Close()

	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	r := NewMarketsReader(testConfig(srv.URL), "coinflow-test", WithClock(func() time.Time { return fixed }))

	res, err := r.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 requests, got %d", calls)
	}
	if res.Pages != 3 || len(res.Batch) != 4 {
		t.Fatalf("unexpected result: pages=%d records=%d", res.Pages, len(res.Batch))
	}
	wantIDs := []string{"bitcoin", "ethereum", "tether", "solana"}
	for i, raw := range res.Batch {
		var rec struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if rec.ID != wantIDs[i] {
			t.Fatalf("record %d: expected %s, got %s", i, wantIDs[i], rec.ID)
		}
	}
	if res.BatchID != "coingecko_raw_20240309140507.json" {
		t.Fatalf("unexpected batch id %s", res.BatchID)
	}
}

func TestFetchAllFirstPageEmpty(t *testing.T) {
	var calls int32
	srv := pagedServer(t, nil, &calls)
	defer srv.Close()

	res, err := NewMarketsReader(testConfig(srv.URL), "").FetchAll(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 request, got %d", calls)
	}
	if len(res.Batch) != 0 || res.Pages != 0 {
		t.Fatalf("expected empty batch, got %d records", len(res.Batch))
	}
}

func TestFetchAllAbortsOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[{"id":"bitcoin","name":"Bitcoin"}]`)
	}))
	defer srv.Close()

	_, err := NewMarketsReader(testConfig(srv.URL), "").FetchAll(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Page != 2 || te.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected error details: %+v", te)
	}
	if calls != 2 {
		t.Fatalf("expected no retry, got %d requests", calls)
	}
}

func TestFetchPageRejectsNonArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":{"error_code":429}}`)
	}))
	defer srv.Close()

	_, err := NewMarketsReader(testConfig(srv.URL), "").FetchPage(context.Background(), 1)
	var te *TransportError
	if !errors.As(err, &te) || te.Page != 1 || te.StatusCode != http.StatusOK {
		t.Fatalf("expected TransportError for object body, got %v", err)
	}
}

func TestFetchPageQueryAndHeaders(t *testing.T) {
	var (
		query  map[string]string
		header http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		header = r.Header.Clone()
		if r.URL.Path != "/coins/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/")
	cfg.APIKey = "secret"
	if _, err := NewMarketsReader(cfg, "coinflow/1.0").FetchPage(context.Background(), 7); err != nil {
		t.Fatalf("fetch page: %v", err)
	}

	want := map[string]string{
		"vs_currency": "usd",
		"order":       "market_cap_desc",
		"per_page":    "250",
		"page":        "7",
		"sparkline":   "false",
	}
	for k, v := range want {
		if query[k] != v {
			t.Errorf("query %s: expected %q, got %q", k, v, query[k])
		}
	}
	if header.Get(cfg.APIKeyHeader) != "secret" {
		t.Errorf("api key header missing: %v", header)
	}
	if header.Get("User-Agent") != "coinflow/1.0" {
		t.Errorf("user agent not set: %v", header)
	}
}

func TestFetchAllCancelled(t *testing.T) {
	var calls int32
	srv := pagedServer(t, [][]string{{`{"name":"x"}`}}, &calls)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMarketsReader(testConfig(srv.URL), "").FetchAll(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPagePacing(t *testing.T) {
	var calls int32
	srv := pagedServer(t, [][]string{{`{"name":"a"}`}}, &calls)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestsPerMinute = 600

	start := time.Now()
	if _, err := NewMarketsReader(cfg, "").FetchAll(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected paced requests, finished in %s", elapsed)
	}
}
