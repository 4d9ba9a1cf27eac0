package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is one upstream entry kept byte-for-byte. Shape checks happen in
// the normalizer, so a staged batch may legitimately hold non-object entries.
type RawRecord = json.RawMessage

// RawPage is a single /coins/markets response page.
type RawPage []RawRecord

// RawBatch is every page of one fetch run concatenated in arrival order.
type RawBatch []RawRecord

// FetchResult is what the fetcher hands to the stager.
type FetchResult struct {
	BatchID   string
	Batch     RawBatch
	Pages     int
	FetchedAt time.Time
}

// StagedBatch is one raw object read back from the staging prefix.
type StagedBatch struct {
	Key   string
	Size  int64
	Batch RawBatch
}

// Column names of the normalized table, in output order.
const (
	ColumnID            = "id"
	ColumnSymbol        = "symbol"
	ColumnName          = "name"
	ColumnCurrentPrice  = "current_price"
	ColumnMarketCap     = "market_cap"
	ColumnMarketCapRank = "market_cap_rank"
	ColumnHigh24h       = "high_24h"
	ColumnLow24h        = "low_24h"
	ColumnATH           = "ath"
	ColumnATL           = "atl"
	ColumnLastUpdated   = "last_updated"
)

// Columns is the fixed schema of the normalized table.
var Columns = []string{
	ColumnID,
	ColumnSymbol,
	ColumnName,
	ColumnCurrentPrice,
	ColumnMarketCap,
	ColumnMarketCapRank,
	ColumnHigh24h,
	ColumnLow24h,
	ColumnATH,
	ColumnATL,
	ColumnLastUpdated,
}

// Record is one coin observation projected onto the fixed schema. Every
// column except Name is optional; a nil pointer or an invalid NullDecimal is
// a null cell.
type Record struct {
	ID            *string
	Symbol        *string
	Name          string
	CurrentPrice  decimal.NullDecimal
	MarketCap     decimal.NullDecimal
	MarketCapRank *int64
	High24h       decimal.NullDecimal
	Low24h        decimal.NullDecimal
	ATH           decimal.NullDecimal
	ATL           decimal.NullDecimal
	LastUpdated   *string
}

// NormalizedTable is the deduplicated record set, unique on ID.
type NormalizedTable struct {
	Records []Record
}

// Header returns a copy of the column names.
func (t NormalizedTable) Header() []string {
	return append([]string(nil), Columns...)
}

func (t NormalizedTable) Len() int {
	return len(t.Records)
}
