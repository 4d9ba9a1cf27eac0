package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	return store
}

func TestLocalStorePutOverwrites(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()
	key := "coin_data/coin_process data/coin_transformed_20240101T000000.csv"

	if err := store.Put(ctx, key, []byte("first"), "text/csv"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, key, []byte("second"), "text/csv"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := store.Get(ctx, key)
	if err != nil || string(data) != "second" {
		t.Fatalf("get: %q %v", data, err)
	}

	entries, err := os.ReadDir(filepath.Join(store.root, "coin_data", "coin_process data"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestLocalStoreListLexical(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	for _, k := range []string{"raw/b.json", "raw/a.json", "raw/sub/c.json", "processed/x.csv"} {
		if err := store.Put(ctx, k, []byte("[]"), "application/json"); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	objects, err := store.List(ctx, "raw/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"raw/a.json", "raw/b.json", "raw/sub/c.json"}
	if len(objects) != len(want) {
		t.Fatalf("expected %v, got %v", want, objects)
	}
	for i, k := range want {
		if objects[i].Key != k || objects[i].Size != 2 {
			t.Fatalf("object %d: expected %s, got %+v", i, k, objects[i])
		}
	}
}

func TestLocalStoreListMissingRoot(t *testing.T) {
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	objects, err := store.List(context.Background(), "raw/")
	if err != nil || len(objects) != 0 {
		t.Fatalf("expected empty listing, got %v %v", objects, err)
	}
}

func TestLocalStoreGetMissing(t *testing.T) {
	store := newTestLocalStore(t)
	if _, err := store.Get(context.Background(), "raw/none.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store := newTestLocalStore(t)
	if err := store.Put(context.Background(), "../evil.json", []byte("x"), "application/json"); err == nil {
		t.Fatalf("expected error for escaping key")
	}
}

func TestLocalStoreCancelled(t *testing.T) {
	store := newTestLocalStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Put(ctx, "raw/a.json", []byte("[]"), "application/json"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
