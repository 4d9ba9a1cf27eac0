package processor

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"coinflow/models"
)

type jsonKind int

const (
	kindMissing jsonKind = iota
	kindNull
	kindString
	kindNumber
	kindBool
	kindObject
	kindArray
)

func kindOf(raw json.RawMessage) jsonKind {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return kindMissing
	}
	switch b[0] {
	case 'n':
		return kindNull
	case '"':
		return kindString
	case 't', 'f':
		return kindBool
	case '{':
		return kindObject
	case '[':
		return kindArray
	default:
		return kindNumber
	}
}

// decodeObject returns the fields of raw when it is a JSON object.
func decodeObject(raw models.RawRecord) (map[string]json.RawMessage, bool) {
	if kindOf(raw) != kindObject {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// Project maps one record-shaped entry onto the fixed schema. It reports
// false when raw is not an object carrying a non-null name. Missing fields
// and fields whose JSON type does not fit their column become null.
func Project(raw models.RawRecord) (models.Record, bool) {
	fields, ok := decodeObject(raw)
	if !ok {
		return models.Record{}, false
	}
	name, ok := textField(fields[models.ColumnName], true)
	if !ok {
		return models.Record{}, false
	}

	rec := models.Record{
		Name:         *name,
		CurrentPrice: decimalField(fields[models.ColumnCurrentPrice]),
		MarketCap:    decimalField(fields[models.ColumnMarketCap]),
		High24h:      decimalField(fields[models.ColumnHigh24h]),
		Low24h:       decimalField(fields[models.ColumnLow24h]),
		ATH:          decimalField(fields[models.ColumnATH]),
		ATL:          decimalField(fields[models.ColumnATL]),
	}
	rec.ID = optionalText(fields[models.ColumnID])
	rec.Symbol = optionalText(fields[models.ColumnSymbol])
	rec.LastUpdated = optionalText(fields[models.ColumnLastUpdated])
	rec.MarketCapRank = rankField(fields[models.ColumnMarketCapRank])
	return rec, true
}

// textField reads a text column. Numbers and booleans keep their literal
// JSON text. Objects and arrays only pass when anyShape is set, as compact
// JSON.
func textField(raw json.RawMessage, anyShape bool) (*string, bool) {
	switch kindOf(raw) {
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		return &s, true
	case kindNumber, kindBool:
		s := string(bytes.TrimSpace(raw))
		return &s, true
	case kindObject, kindArray:
		if !anyShape {
			return nil, false
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, false
		}
		s := buf.String()
		return &s, true
	default:
		return nil, false
	}
}

// maxExponent bounds the exponent of accepted numbers. String and IsInteger
// expand the exponent into digits.
const maxExponent = 400

// optionalText reads a nullable text column. An empty string is null, as
// the table cannot tell the two apart.
func optionalText(raw json.RawMessage) *string {
	s, ok := textField(raw, false)
	if !ok || *s == "" {
		return nil
	}
	return s
}

// decimalField accepts JSON numbers and numeric strings. Numbers whose
// exponent falls outside ±maxExponent are null.
func decimalField(raw json.RawMessage) decimal.NullDecimal {
	var text string
	switch kindOf(raw) {
	case kindNumber:
		text = string(bytes.TrimSpace(raw))
	case kindString:
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.NullDecimal{}
		}
	default:
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// rankField accepts integral numbers, including forms such as 1.0.
func rankField(raw json.RawMessage) *int64 {
	d := decimalField(raw)
	if !d.Valid || !d.Decimal.IsInteger() {
		return nil
	}
	if n, err := strconv.ParseInt(d.Decimal.String(), 10, 64); err == nil {
		return &n
	}
	return nil
}
