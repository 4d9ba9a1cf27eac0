package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, baseURL, dataDir string) string {
	t.Helper()
	body := fmt.Sprintf(`coinflow:
  name: "coinflow"
  version: "test"
source:
  coingecko:
    base_url: %q
    vs_currency: "usd"
    order: "market_cap_desc"
    per_page: 250
    timeout: 5s
storage:
  s3:
    enabled: true
    bucket: "coinflow-test"
    region: "us-east-1"
  local:
    dir: %q
  prefixes:
    raw: "raw/"
    processed: "processed/"
loader:
  order: "listing"
logging:
  level: "error"
  format: "json"
  output: "stderr"
`, baseURL, dataDir)
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunDryRunPublishesLocally(t *testing.T) {
	t.Setenv("APP_ENV", "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, `[{"id":"btc","name":"Bitcoin","current_price":50000}]`)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	dataDir := t.TempDir()
	cfgPath := writeConfig(t, srv.URL, dataDir)

	if code := run([]string{"-config", cfgPath, "-dry-run"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	published, err := filepath.Glob(filepath.Join(dataDir, "processed", "coin_transformed_*.csv"))
	if err != nil || len(published) != 1 {
		t.Fatalf("expected one published table, got %v %v", published, err)
	}
	data, err := os.ReadFile(published[0])
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if !strings.Contains(string(data), "btc,,Bitcoin,50000,,,,,,,") {
		t.Fatalf("unexpected table %q", data)
	}
}

func TestRunFailureReturnsNonZero(t *testing.T) {
	t.Setenv("APP_ENV", "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfgPath := writeConfig(t, srv.URL, t.TempDir())
	if code := run([]string{"-config", cfgPath, "-dry-run"}); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestRunMissingConfig(t *testing.T) {
	t.Setenv("APP_ENV", "")
	if code := run([]string{"-config", filepath.Join(t.TempDir(), "missing.yml")}); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestRunBadFlag(t *testing.T) {
	if code := run([]string{"-no-such-flag"}); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}
