package processor

import (
	"bytes"
	"strings"
	"testing"

	"coinflow/models"
)

const header = "id,symbol,name,current_price,market_cap,market_cap_rank,high_24h,low_24h,ath,atl,last_updated"

func TestEncodeCSVSingleRecord(t *testing.T) {
	table, _ := Normalize([]models.StagedBatch{batchOf(`{"id":"btc","name":"Bitcoin","current_price":50000}`)})

	var buf bytes.Buffer
	if err := EncodeCSV(&buf, table); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := header + "\nbtc,,Bitcoin,50000,,,,,,,\n"
	if buf.String() != want {
		t.Fatalf("unexpected csv:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestEncodeCSVHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, models.NormalizedTable{}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.String() != header+"\n" {
		t.Fatalf("unexpected csv %q", buf.String())
	}
}

func TestCSVRoundTrip(t *testing.T) {
	table, _ := Normalize([]models.StagedBatch{batchOf(
		`{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":50000.25,"market_cap":1000000000,"market_cap_rank":1,"high_24h":51000,"low_24h":49000,"ath":69000,"atl":67.81,"last_updated":"2024-01-01T00:00:00.000Z"}`,
		`{"id":"weird","name":"Comma, \"Quoted\" Coin","atl":0.00000001}`,
		`{"name":"No Id"}`,
	)})

	var buf bytes.Buffer
	if err := EncodeCSV(&buf, table); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeCSV(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Len() != table.Len() {
		t.Fatalf("expected %d records, got %d", table.Len(), decoded.Len())
	}

	var again bytes.Buffer
	if err := EncodeCSV(&again, decoded); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if again.String() != buf.String() {
		t.Fatalf("round trip changed output:\n%s\nvs\n%s", buf.String(), again.String())
	}

	if decoded.Records[1].Name != `Comma, "Quoted" Coin` {
		t.Fatalf("quoted name mangled: %q", decoded.Records[1].Name)
	}
	if !decoded.Records[0].ATL.Decimal.Equal(table.Records[0].ATL.Decimal) {
		t.Fatalf("atl mismatch")
	}
	if decoded.Records[2].ID != nil {
		t.Fatalf("expected null id after round trip")
	}
}

func TestDecodeCSVRejectsWrongHeader(t *testing.T) {
	bad := strings.Replace(header, "symbol", "ticker", 1) + "\n"
	if _, err := DecodeCSV(strings.NewReader(bad)); err == nil {
		t.Fatalf("expected header error")
	}
}

func TestDecodeCSVRejectsBadNumber(t *testing.T) {
	data := header + "\nbtc,,Bitcoin,abc,,,,,,,\n"
	if _, err := DecodeCSV(strings.NewReader(data)); err == nil {
		t.Fatalf("expected parse error")
	}
}
