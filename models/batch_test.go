package models

import (
	"testing"
	"time"
)

func TestBatchIDRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 28, 9, 5, 7, 0, time.UTC)
	id := BatchIDFor(at)
	if id != "coingecko_raw_20250628090507.json" {
		t.Fatalf("unexpected batch id: %s", id)
	}
	got, ok := BatchTime("coin_data/raw_data/" + id)
	if !ok || !got.Equal(at) {
		t.Fatalf("BatchTime = %v, %v", got, ok)
	}
}

func TestBatchIDUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2025, 6, 28, 2, 0, 0, 0, loc)
	if id := BatchIDFor(at); id != "coingecko_raw_20250628000000.json" {
		t.Fatalf("unexpected batch id: %s", id)
	}
}

func TestBatchTimeRejectsForeignKeys(t *testing.T) {
	for _, key := range []string{
		"coin_data/raw_data/other.json",
		"coin_data/raw_data/coingecko_raw_latest.json",
		"coin_data/raw_data/coingecko_raw_20250628090507.csv",
	} {
		if _, ok := BatchTime(key); ok {
			t.Errorf("BatchTime(%q) unexpectedly parsed", key)
		}
	}
}

func TestIsRawObjectKey(t *testing.T) {
	if !IsRawObjectKey("coin_data/raw_data/x.json") {
		t.Fatal("json key rejected")
	}
	if IsRawObjectKey("coin_data/raw_data/x.json.tmp") {
		t.Fatal("non-json key accepted")
	}
}
