package writer

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"coinflow/models"
)

// ParquetRecord is the parquet row layout of models.Record. Every column but
// name is nullable.
type ParquetRecord struct {
	ID            *string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Symbol        *string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Name          string   `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	CurrentPrice  *float64 `parquet:"name=current_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	MarketCap     *float64 `parquet:"name=market_cap, type=DOUBLE, repetitiontype=OPTIONAL"`
	MarketCapRank *int64   `parquet:"name=market_cap_rank, type=INT64, repetitiontype=OPTIONAL"`
	High24h       *float64 `parquet:"name=high_24h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Low24h        *float64 `parquet:"name=low_24h, type=DOUBLE, repetitiontype=OPTIONAL"`
	ATH           *float64 `parquet:"name=ath, type=DOUBLE, repetitiontype=OPTIONAL"`
	ATL           *float64 `parquet:"name=atl, type=DOUBLE, repetitiontype=OPTIONAL"`
	LastUpdated   *string  `parquet:"name=last_updated, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

// Seek only reports the current size; the writer never seeks backwards.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "lzo":
		return parquet.CompressionCodec_LZO
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

func toParquetRecord(rec models.Record) ParquetRecord {
	return ParquetRecord{
		ID:            rec.ID,
		Symbol:        rec.Symbol,
		Name:          rec.Name,
		CurrentPrice:  floatPtr(rec.CurrentPrice),
		MarketCap:     floatPtr(rec.MarketCap),
		MarketCapRank: rec.MarketCapRank,
		High24h:       floatPtr(rec.High24h),
		Low24h:        floatPtr(rec.Low24h),
		ATH:           floatPtr(rec.ATH),
		ATL:           floatPtr(rec.ATL),
		LastUpdated:   rec.LastUpdated,
	}
}

func floatPtr(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}

// encodeParquet renders the table as a single parquet file in memory.
func encodeParquet(table models.NormalizedTable, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := pqwriter.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, rec := range table.Records {
		if err := pw.Write(toParquetRecord(rec)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
