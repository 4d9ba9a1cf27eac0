package processor

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"coinflow/models"
)

// EncodeCSV writes the header and one row per record. Null cells are empty
// and decimals are written in plain notation.
func EncodeCSV(w io.Writer, table models.NormalizedTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, rec := range table.Records {
		if err := cw.Write(recordRow(rec)); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func recordRow(rec models.Record) []string {
	return []string{
		textCell(rec.ID),
		textCell(rec.Symbol),
		rec.Name,
		decimalCell(rec.CurrentPrice),
		decimalCell(rec.MarketCap),
		rankCell(rec.MarketCapRank),
		decimalCell(rec.High24h),
		decimalCell(rec.Low24h),
		decimalCell(rec.ATH),
		decimalCell(rec.ATL),
		textCell(rec.LastUpdated),
	}
}

func textCell(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decimalCell(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func rankCell(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

// DecodeCSV parses a table written by EncodeCSV. Empty optional cells read
// back as null.
func DecodeCSV(r io.Reader) (models.NormalizedTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(models.Columns)

	header, err := cr.Read()
	if err != nil {
		return models.NormalizedTable{}, fmt.Errorf("read csv header: %w", err)
	}
	for i, col := range models.Columns {
		if header[i] != col {
			return models.NormalizedTable{}, fmt.Errorf("unexpected column %d: %q, want %q", i, header[i], col)
		}
	}

	var records []models.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.NormalizedTable{}, fmt.Errorf("read csv line %d: %w", line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return models.NormalizedTable{}, fmt.Errorf("parse csv line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return models.NormalizedTable{Records: records}, nil
}

func parseRow(row []string) (models.Record, error) {
	rec := models.Record{
		ID:          optText(row[0]),
		Symbol:      optText(row[1]),
		Name:        row[2],
		LastUpdated: optText(row[10]),
	}

	decimals := []struct {
		col  string
		cell string
		dst  *decimal.NullDecimal
	}{
		{models.ColumnCurrentPrice, row[3], &rec.CurrentPrice},
		{models.ColumnMarketCap, row[4], &rec.MarketCap},
		{models.ColumnHigh24h, row[6], &rec.High24h},
		{models.ColumnLow24h, row[7], &rec.Low24h},
		{models.ColumnATH, row[8], &rec.ATH},
		{models.ColumnATL, row[9], &rec.ATL},
	}
	for _, d := range decimals {
		if d.cell == "" {
			continue
		}
		v, err := decimal.NewFromString(d.cell)
		if err != nil {
			return models.Record{}, fmt.Errorf("%s: %w", d.col, err)
		}
		*d.dst = decimal.NullDecimal{Decimal: v, Valid: true}
	}

	if row[5] != "" {
		n, err := strconv.ParseInt(row[5], 10, 64)
		if err != nil {
			return models.Record{}, fmt.Errorf("%s: %w", models.ColumnMarketCapRank, err)
		}
		rec.MarketCapRank = &n
	}
	return rec, nil
}

func optText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
