package staged

import (
	"context"
	"errors"
	"testing"

	"coinflow/config"
	"coinflow/internal/metrics"
	"coinflow/internal/storage"
)

func newStore(t *testing.T, objects map[string]string) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for k, v := range objects {
		if err := store.Put(context.Background(), k, []byte(v), "application/json"); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	return store
}

func TestLoadAllEmptyPrefix(t *testing.T) {
	store := newStore(t, nil)
	batches, err := NewLoader(store, config.LoaderOrderListing).LoadAll(context.Background(), "coin_data/raw_data/")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(batches) != 0 {
		t.Fatalf("expected no batches, got %d", len(batches))
	}
}

func TestLoadAllSkipsNonJSONAndOtherPrefixes(t *testing.T) {
	store := newStore(t, map[string]string{
		"raw/coingecko_raw_20240101000000.json": `[{"name":"Bitcoin"},{"name":"Ether"}]`,
		"raw/notes.txt":                         `not json`,
		"processed/coin_transformed.csv":        `id,name`,
	})

	batches, err := NewLoader(store, config.LoaderOrderListing).LoadAll(context.Background(), "raw/")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if batches[0].Key != "raw/coingecko_raw_20240101000000.json" || len(batches[0].Batch) != 2 {
		t.Fatalf("unexpected batch %+v", batches[0])
	}
	if batches[0].Size == 0 {
		t.Fatalf("size not recorded")
	}
}

func TestLoadAllParseError(t *testing.T) {
	for name, body := range map[string]string{
		"object":    `{"name":"Bitcoin"}`,
		"truncated": `[{"name":"Bitcoin"`,
		"empty":     ``,
	} {
		t.Run(name, func(t *testing.T) {
			store := newStore(t, map[string]string{
				"raw/a.json": `[]`,
				"raw/b.json": body,
			})
			_, err := NewLoader(store, config.LoaderOrderListing).LoadAll(context.Background(), "raw/")
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if perr.Key != "raw/b.json" {
				t.Fatalf("unexpected key %s", perr.Key)
			}
		})
	}
}

func TestLoadAllTimestampOrder(t *testing.T) {
	store := newStore(t, map[string]string{
		"raw/a/coingecko_raw_20240105000000.json": `[{"name":"late"}]`,
		"raw/b/coingecko_raw_20240101000000.json": `[{"name":"early"}]`,
		"raw/c/manual.json":                       `[{"name":"undated"}]`,
		"raw/d/coingecko_raw_20240103000000.json": `[{"name":"middle"}]`,
	})

	listing, err := NewLoader(store, config.LoaderOrderListing).LoadAll(context.Background(), "raw/")
	if err != nil {
		t.Fatalf("load listing: %v", err)
	}
	if listing[0].Key != "raw/a/coingecko_raw_20240105000000.json" {
		t.Fatalf("listing order changed: %s", listing[0].Key)
	}

	ordered, err := NewLoader(store, config.LoaderOrderTimestamp).LoadAll(context.Background(), "raw/")
	if err != nil {
		t.Fatalf("load timestamp: %v", err)
	}
	want := []string{
		"raw/b/coingecko_raw_20240101000000.json",
		"raw/d/coingecko_raw_20240103000000.json",
		"raw/a/coingecko_raw_20240105000000.json",
		"raw/c/manual.json",
	}
	for i, k := range want {
		if ordered[i].Key != k {
			t.Fatalf("position %d: expected %s, got %s", i, k, ordered[i].Key)
		}
	}
}

func TestLoadAllStorageError(t *testing.T) {
	store := newStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(store, config.LoaderOrderListing).LoadAll(ctx, "raw/")
	var serr *storage.Error
	if !errors.As(err, &serr) || serr.Op != "list" {
		t.Fatalf("expected storage list error, got %v", err)
	}
}

func TestLoadAllEmitsLoadMetrics(t *testing.T) {
	body := `[{"name":"Bitcoin"}]`
	store := newStore(t, map[string]string{
		"raw/coingecko_raw_20240101000000.json": body,
		"raw/coingecko_raw_20240102000000.json": body,
	})

	got := make(map[string]interface{})
	id := metrics.RegisterMetricHandler(func(m metrics.Metric) {
		if m.Component == "staged_loader" {
			got[m.Name] = m.Value
		}
	})
	t.Cleanup(func() {
		metrics.UnregisterMetricHandler(id)
	})

	if _, err := NewLoader(store, config.LoaderOrderListing).LoadAll(context.Background(), "raw/"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got["objects_loaded"] != 2 {
		t.Fatalf("objects_loaded: %v", got["objects_loaded"])
	}
	if got["bytes_loaded"] != int64(2*len(body)) {
		t.Fatalf("bytes_loaded: %v", got["bytes_loaded"])
	}
}
